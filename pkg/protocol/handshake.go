package protocol

import "fmt"

// HandshakeStatus represents the result of a handshake.
type HandshakeStatus uint8

const (
	HandshakeOK              HandshakeStatus = 0x00
	HandshakeVersionMismatch HandshakeStatus = 0x01 // Protocol version not supported
	HandshakeSessionExpired  HandshakeStatus = 0x02 // Session no longer resumable
	HandshakeServerBusy      HandshakeStatus = 0x03 // Server at session capacity
	HandshakeLimitExceeded   HandshakeStatus = 0x04 // Too many sessions from one client
	HandshakeInvalidFormat   HandshakeStatus = 0x05 // Malformed handshake message
	HandshakeInternalError   HandshakeStatus = 0x06 // Server error
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeVersionMismatch:
		return "VersionMismatch"
	case HandshakeSessionExpired:
		return "SessionExpired"
	case HandshakeServerBusy:
		return "ServerBusy"
	case HandshakeLimitExceeded:
		return "LimitExceeded"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ProtocolVersion represents a protocol version as major.minor.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// CurrentVersion is the current protocol version.
var CurrentVersion = ProtocolVersion{Major: 1, Minor: 0}

// ClientHello is sent by the client after the WebSocket connection is
// established. A non-empty SessionID asks the server to resume that session;
// LastVersion is the highest tree version the client applied before
// disconnecting, so the server can replay exactly the missing patches.
type ClientHello struct {
	Version     ProtocolVersion
	SessionID   string // Existing session ID (empty for a new session)
	LastVersion uint64 // Last applied tree version (0 for a new session)
}

// ServerHello is the server's response to ClientHello.
type ServerHello struct {
	Status     HandshakeStatus
	SessionID  string // Session ID (new or resumed)
	Version    uint64 // Server's current tree version
	ServerTime uint64 // Server time in Unix milliseconds
}

// EncodeClientHello encodes a ClientHello to bytes.
func EncodeClientHello(ch *ClientHello) []byte {
	e := NewEncoder()
	EncodeClientHelloTo(e, ch)
	return e.Bytes()
}

// EncodeClientHelloTo encodes a ClientHello using the provided encoder.
func EncodeClientHelloTo(e *Encoder, ch *ClientHello) {
	e.WriteByte(ch.Version.Major)
	e.WriteByte(ch.Version.Minor)
	e.WriteString(ch.SessionID)
	e.WriteUvarint(ch.LastVersion)
}

// DecodeClientHello decodes a ClientHello from bytes.
func DecodeClientHello(data []byte) (*ClientHello, error) {
	d := NewDecoder(data)
	return DecodeClientHelloFrom(d)
}

// DecodeClientHelloFrom decodes a ClientHello from a decoder.
func DecodeClientHelloFrom(d *Decoder) (*ClientHello, error) {
	ch := &ClientHello{}

	major, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	minor, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	ch.Version = ProtocolVersion{Major: major, Minor: minor}

	ch.SessionID, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	ch.LastVersion, err = d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	return ch, nil
}

// EncodeServerHello encodes a ServerHello to bytes.
func EncodeServerHello(sh *ServerHello) []byte {
	e := NewEncoder()
	EncodeServerHelloTo(e, sh)
	return e.Bytes()
}

// EncodeServerHelloTo encodes a ServerHello using the provided encoder.
func EncodeServerHelloTo(e *Encoder, sh *ServerHello) {
	e.WriteByte(byte(sh.Status))
	e.WriteString(sh.SessionID)
	e.WriteUvarint(sh.Version)
	e.WriteUint64(sh.ServerTime)
}

// DecodeServerHello decodes a ServerHello from bytes.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	d := NewDecoder(data)
	return DecodeServerHelloFrom(d)
}

// DecodeServerHelloFrom decodes a ServerHello from a decoder.
func DecodeServerHelloFrom(d *Decoder) (*ServerHello, error) {
	sh := &ServerHello{}

	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	sh.Status = HandshakeStatus(status)

	sh.SessionID, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	sh.Version, err = d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	sh.ServerTime, err = d.ReadUint64()
	if err != nil {
		return nil, err
	}

	return sh, nil
}

// NewClientHello creates a ClientHello for a fresh session.
func NewClientHello() *ClientHello {
	return &ClientHello{Version: CurrentVersion}
}

// NewResumeHello creates a ClientHello that resumes an existing session.
func NewResumeHello(sessionID string, lastVersion uint64) *ClientHello {
	return &ClientHello{
		Version:     CurrentVersion,
		SessionID:   sessionID,
		LastVersion: lastVersion,
	}
}

// NewServerHello creates a successful ServerHello.
func NewServerHello(sessionID string, version, serverTime uint64) *ServerHello {
	return &ServerHello{
		Status:     HandshakeOK,
		SessionID:  sessionID,
		Version:    version,
		ServerTime: serverTime,
	}
}

// NewServerHelloError creates a ServerHello with an error status.
func NewServerHelloError(status HandshakeStatus) *ServerHello {
	return &ServerHello{
		Status: status,
	}
}
