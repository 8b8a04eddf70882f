package protocol

// ControlType identifies the type of control message.
type ControlType uint8

const (
	ControlPing          ControlType = 0x01 // Client/server ping
	ControlPong          ControlType = 0x02 // Response to ping
	ControlResyncRequest ControlType = 0x10 // Client requests missed patches
	ControlResyncPatches ControlType = 0x11 // Server replays missed patch frames
	ControlResyncFull    ControlType = 0x12 // Server sends the complete tree
	ControlClose         ControlType = 0x20 // Session close
)

// String returns the string representation of the control type.
func (ct ControlType) String() string {
	switch ct {
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlResyncRequest:
		return "ResyncRequest"
	case ControlResyncPatches:
		return "ResyncPatches"
	case ControlResyncFull:
		return "ResyncFull"
	case ControlClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// CloseReason indicates why a session is being closed.
type CloseReason uint8

const (
	CloseNormal         CloseReason = 0x00 // Normal closure
	CloseGoingAway      CloseReason = 0x01 // Client/server going away
	CloseSessionExpired CloseReason = 0x02 // Session expired
	CloseServerShutdown CloseReason = 0x03 // Server shutting down
	CloseError          CloseReason = 0x04 // Error occurred
)

// String returns the string representation of the close reason.
func (cr CloseReason) String() string {
	switch cr {
	case CloseNormal:
		return "Normal"
	case CloseGoingAway:
		return "GoingAway"
	case CloseSessionExpired:
		return "SessionExpired"
	case CloseServerShutdown:
		return "ServerShutdown"
	case CloseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PingPong is the payload for Ping and Pong messages.
type PingPong struct {
	Timestamp uint64 // Unix timestamp in milliseconds
}

// VersionUnknown as a LastVersion tells the server the client has no
// usable tree state. The server cannot replay past it and answers with a
// full resync.
const VersionUnknown = ^uint64(0)

// ResyncRequest is sent by a client that detected a version gap.
// LastVersion is the highest tree version the client has applied, or
// VersionUnknown to request the full tree.
type ResyncRequest struct {
	LastVersion uint64
}

// ResyncPatches replays the patch frames a client missed, in version order.
// Each replayed frame is the exact frame originally sent, so the client
// applies them through the normal versioned path.
type ResyncPatches struct {
	FromVersion uint64 // Version of the first replayed frame
	Frames      []*PatchesFrame
}

// ResyncFull carries the complete server tree and its version. The client
// discards its mirror and adopts this tree.
type ResyncFull struct {
	Tree    *NodeWire
	Version uint64
}

// CloseMessage is sent when closing a session.
type CloseMessage struct {
	Reason  CloseReason
	Message string
}

// EncodeControl encodes a control message to bytes.
func EncodeControl(ct ControlType, payload any) []byte {
	e := NewEncoder()
	EncodeControlTo(e, ct, payload)
	return e.Bytes()
}

// EncodeControlTo encodes a control message using the provided encoder.
func EncodeControlTo(e *Encoder, ct ControlType, payload any) {
	e.WriteByte(byte(ct))

	switch ct {
	case ControlPing, ControlPong:
		if pp, ok := payload.(*PingPong); ok {
			e.WriteUint64(pp.Timestamp)
		} else {
			e.WriteUint64(0)
		}

	case ControlResyncRequest:
		if rr, ok := payload.(*ResyncRequest); ok {
			e.WriteUvarint(rr.LastVersion)
		} else {
			e.WriteUvarint(0)
		}

	case ControlResyncPatches:
		if rp, ok := payload.(*ResyncPatches); ok {
			e.WriteUvarint(rp.FromVersion)
			e.WriteUvarint(uint64(len(rp.Frames)))
			for _, frame := range rp.Frames {
				e.WriteLenBytes(EncodePatches(frame))
			}
		} else {
			e.WriteUvarint(0)
			e.WriteUvarint(0)
		}

	case ControlResyncFull:
		if rf, ok := payload.(*ResyncFull); ok {
			e.WriteUvarint(rf.Version)
			EncodeNodeWire(e, rf.Tree)
		} else {
			e.WriteUvarint(0)
			EncodeNodeWire(e, nil)
		}

	case ControlClose:
		if cm, ok := payload.(*CloseMessage); ok {
			e.WriteByte(byte(cm.Reason))
			e.WriteString(cm.Message)
		} else {
			e.WriteByte(byte(CloseNormal))
			e.WriteString("")
		}
	}
}

// DecodeControl decodes a control message from bytes.
// Returns the control type and the decoded payload.
func DecodeControl(data []byte) (ControlType, any, error) {
	d := NewDecoder(data)
	return DecodeControlFrom(d)
}

// DecodeControlFrom decodes a control message from a decoder.
func DecodeControlFrom(d *Decoder) (ControlType, any, error) {
	typeByte, err := d.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	ct := ControlType(typeByte)

	switch ct {
	case ControlPing, ControlPong:
		ts, err := d.ReadUint64()
		if err != nil {
			return ct, nil, err
		}
		return ct, &PingPong{Timestamp: ts}, nil

	case ControlResyncRequest:
		lastVersion, err := d.ReadUvarint()
		if err != nil {
			return ct, nil, err
		}
		return ct, &ResyncRequest{LastVersion: lastVersion}, nil

	case ControlResyncPatches:
		fromVersion, err := d.ReadUvarint()
		if err != nil {
			return ct, nil, err
		}
		count, err := d.ReadCollectionCount()
		if err != nil {
			return ct, nil, err
		}
		frames := make([]*PatchesFrame, count)
		for i := 0; i < count; i++ {
			raw, err := d.ReadLenBytes()
			if err != nil {
				return ct, nil, err
			}
			frame, err := DecodePatches(raw)
			if err != nil {
				return ct, nil, err
			}
			frames[i] = frame
		}
		return ct, &ResyncPatches{
			FromVersion: fromVersion,
			Frames:      frames,
		}, nil

	case ControlResyncFull:
		version, err := d.ReadUvarint()
		if err != nil {
			return ct, nil, err
		}
		tree, err := DecodeNodeWire(d)
		if err != nil {
			return ct, nil, err
		}
		return ct, &ResyncFull{
			Tree:    tree,
			Version: version,
		}, nil

	case ControlClose:
		reason, err := d.ReadByte()
		if err != nil {
			return ct, nil, err
		}
		message, err := d.ReadString()
		if err != nil {
			return ct, nil, err
		}
		return ct, &CloseMessage{
			Reason:  CloseReason(reason),
			Message: message,
		}, nil

	default:
		return ct, nil, nil
	}
}

// NewPing creates a new Ping message.
func NewPing(timestamp uint64) (ControlType, *PingPong) {
	return ControlPing, &PingPong{Timestamp: timestamp}
}

// NewPong creates a new Pong message.
func NewPong(timestamp uint64) (ControlType, *PingPong) {
	return ControlPong, &PingPong{Timestamp: timestamp}
}

// NewResyncRequest creates a new ResyncRequest message.
func NewResyncRequest(lastVersion uint64) (ControlType, *ResyncRequest) {
	return ControlResyncRequest, &ResyncRequest{LastVersion: lastVersion}
}

// NewResyncPatches creates a new ResyncPatches message.
func NewResyncPatches(fromVersion uint64, frames []*PatchesFrame) (ControlType, *ResyncPatches) {
	return ControlResyncPatches, &ResyncPatches{
		FromVersion: fromVersion,
		Frames:      frames,
	}
}

// NewResyncFull creates a new ResyncFull message.
func NewResyncFull(tree *NodeWire, version uint64) (ControlType, *ResyncFull) {
	return ControlResyncFull, &ResyncFull{
		Tree:    tree,
		Version: version,
	}
}

// NewClose creates a new Close message.
func NewClose(reason CloseReason, message string) (ControlType, *CloseMessage) {
	return ControlClose, &CloseMessage{Reason: reason, Message: message}
}
