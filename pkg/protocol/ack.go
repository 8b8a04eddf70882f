package protocol

// Ack is sent by the client to acknowledge applied patches.
// It serves multiple purposes:
//  1. The server advances its acked version only on receipt, so patch
//     history is trimmed against what the client has really applied
//  2. Flow control (server knows the client's processing capacity)
//  3. Detecting client lag
type Ack struct {
	Version uint64 // Highest tree version the client has applied
	Window  uint64 // How many more patch frames the client can accept
}

// DefaultAckWindow is the default receive window size.
const DefaultAckWindow = 100

// EncodeAck encodes an Ack to bytes.
func EncodeAck(ack *Ack) []byte {
	e := NewEncoder()
	EncodeAckTo(e, ack)
	return e.Bytes()
}

// EncodeAckTo encodes an Ack using the provided encoder.
func EncodeAckTo(e *Encoder, ack *Ack) {
	e.WriteUvarint(ack.Version)
	e.WriteUvarint(ack.Window)
}

// DecodeAck decodes an Ack from bytes.
func DecodeAck(data []byte) (*Ack, error) {
	d := NewDecoder(data)
	return DecodeAckFrom(d)
}

// DecodeAckFrom decodes an Ack from a decoder.
func DecodeAckFrom(d *Decoder) (*Ack, error) {
	version, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	window, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	return &Ack{
		Version: version,
		Window:  window,
	}, nil
}

// NewAck creates a new Ack with the given version and window.
func NewAck(version, window uint64) *Ack {
	return &Ack{
		Version: version,
		Window:  window,
	}
}
