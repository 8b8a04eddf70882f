package protocol

import (
	"errors"
	"sort"
)

// EventType identifies the type of client event.
type EventType uint8

const (
	EventClick  EventType = 0x01
	EventInput  EventType = 0x10
	EventChange EventType = 0x11
	EventSubmit EventType = 0x12
	EventCustom EventType = 0xFF
)

// String returns the string representation of the event type.
func (et EventType) String() string {
	switch et {
	case EventClick:
		return "Click"
	case EventInput:
		return "Input"
	case EventChange:
		return "Change"
	case EventSubmit:
		return "Submit"
	case EventCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Event represents a client input event.
//
// Seq is a client-assigned sequence number, monotonically increasing per
// session. Events captured while disconnected keep their numbers, so the
// server can discard duplicates when a reconnecting client replays its
// pending queue.
type Event struct {
	Seq    uint64
	Type   EventType
	NodeID string            // Target node ID
	Value  string            // Input value, change value, or custom payload
	Fields map[string]string // Form fields for Submit
}

// Event encoding errors.
var (
	ErrInvalidEventType = errors.New("protocol: invalid event type")
)

// EncodeEvent encodes an event to bytes.
func EncodeEvent(e *Event) []byte {
	enc := NewEncoder()
	EncodeEventTo(enc, e)
	return enc.Bytes()
}

// EncodeEventTo encodes an event using the provided encoder.
// Submit fields are written in sorted key order.
func EncodeEventTo(enc *Encoder, e *Event) {
	enc.WriteUvarint(e.Seq)
	enc.WriteByte(byte(e.Type))
	enc.WriteString(e.NodeID)

	switch e.Type {
	case EventClick:
		// No payload

	case EventInput, EventChange, EventCustom:
		enc.WriteString(e.Value)

	case EventSubmit:
		enc.WriteUvarint(uint64(len(e.Fields)))
		names := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			enc.WriteString(k)
			enc.WriteString(e.Fields[k])
		}
	}
}

// DecodeEvent decodes an event from bytes.
func DecodeEvent(data []byte) (*Event, error) {
	d := NewDecoder(data)
	return DecodeEventFrom(d)
}

// DecodeEventFrom decodes an event from a decoder.
func DecodeEventFrom(d *Decoder) (*Event, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	typeByte, err := d.ReadByte()
	if err != nil {
		return nil, err
	}

	e := &Event{
		Seq:  seq,
		Type: EventType(typeByte),
	}

	e.NodeID, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	switch e.Type {
	case EventClick:
		// No payload

	case EventInput, EventChange, EventCustom:
		e.Value, err = d.ReadString()
		if err != nil {
			return nil, err
		}

	case EventSubmit:
		count, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		if count > 0 {
			e.Fields = make(map[string]string, count)
			for i := 0; i < count; i++ {
				key, err := d.ReadString()
				if err != nil {
					return nil, err
				}
				value, err := d.ReadString()
				if err != nil {
					return nil, err
				}
				e.Fields[key] = value
			}
		}

	default:
		return nil, ErrInvalidEventType
	}

	return e, nil
}

// NewClickEvent creates a click event.
func NewClickEvent(seq uint64, nodeID string) *Event {
	return &Event{Seq: seq, Type: EventClick, NodeID: nodeID}
}

// NewInputEvent creates an input event with the current value.
func NewInputEvent(seq uint64, nodeID, value string) *Event {
	return &Event{Seq: seq, Type: EventInput, NodeID: nodeID, Value: value}
}

// NewChangeEvent creates a change event with the committed value.
func NewChangeEvent(seq uint64, nodeID, value string) *Event {
	return &Event{Seq: seq, Type: EventChange, NodeID: nodeID, Value: value}
}

// NewSubmitEvent creates a submit event with form fields.
func NewSubmitEvent(seq uint64, nodeID string, fields map[string]string) *Event {
	return &Event{Seq: seq, Type: EventSubmit, NodeID: nodeID, Fields: fields}
}

// NewCustomEvent creates a custom event with an opaque payload.
func NewCustomEvent(seq uint64, nodeID, payload string) *Event {
	return &Event{Seq: seq, Type: EventCustom, NodeID: nodeID, Value: payload}
}
