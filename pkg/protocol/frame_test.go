package protocol

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameEncodeDecode(t *testing.T) {
	f := NewFrameWithFlags(FramePatches, FlagResync, []byte("payload data"))

	data := f.Encode()
	if len(data) != FrameHeaderSize+12 {
		t.Fatalf("encoded length = %d, want %d", len(data), FrameHeaderSize+12)
	}
	if data[0] != byte(FramePatches) {
		t.Errorf("type byte = %x, want %x", data[0], byte(FramePatches))
	}
	if data[1] != byte(FlagResync) {
		t.Errorf("flags byte = %x, want %x", data[1], byte(FlagResync))
	}

	decoded, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.Type != FramePatches {
		t.Errorf("Type = %v, want %v", decoded.Type, FramePatches)
	}
	if !decoded.Flags.Has(FlagResync) {
		t.Error("FlagResync not set after decode")
	}
	if decoded.Flags.Has(FlagFinal) {
		t.Error("FlagFinal set after decode, should be clear")
	}
	if string(decoded.Payload) != "payload data" {
		t.Errorf("Payload = %q, want %q", decoded.Payload, "payload data")
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	f := NewFrame(FrameControl, nil)

	decoded, err := DecodeFrame(f.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.Type != FrameControl || len(decoded.Payload) != 0 {
		t.Errorf("decoded = %+v, want empty control frame", decoded)
	}
}

func TestFrameDecodeTruncated(t *testing.T) {
	// Header only present partially.
	if _, err := DecodeFrame([]byte{0x02, 0x00}); err != io.ErrUnexpectedEOF {
		t.Errorf("short header err = %v, want ErrUnexpectedEOF", err)
	}

	// Header claims 10 payload bytes, only 3 present.
	data := []byte{0x02, 0x00, 0x00, 0x0A, 0x01, 0x02, 0x03}
	if _, err := DecodeFrame(data); err != io.ErrUnexpectedEOF {
		t.Errorf("short payload err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestFrameDecodeHeader(t *testing.T) {
	f := NewFrameWithFlags(FrameEvent, FlagFinal, bytes.Repeat([]byte{0xAA}, 300))

	ft, flags, length, err := DecodeFrameHeader(f.Encode())
	if err != nil {
		t.Fatalf("DecodeFrameHeader failed: %v", err)
	}
	if ft != FrameEvent || flags != FlagFinal || length != 300 {
		t.Errorf("header = (%v, %v, %d), want (Event, FlagFinal, 300)", ft, flags, length)
	}
}

func TestFrameReadWrite(t *testing.T) {
	var buf bytes.Buffer

	frames := []*Frame{
		NewFrame(FrameHandshake, []byte{0x01}),
		NewFrame(FramePatches, []byte("first batch")),
		NewFrameWithFlags(FramePatches, FlagResync|FlagFinal, []byte("second batch")),
		NewFrame(FrameAck, nil),
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame(%v) failed: %v", f.Type, err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame #%d failed: %v", i, err)
		}
		if got.Type != want.Type || got.Flags != want.Flags {
			t.Errorf("frame #%d = (%v, %v), want (%v, %v)", i, got.Type, got.Flags, want.Type, want.Flags)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame #%d payload = %q, want %q", i, got.Payload, want.Payload)
		}
	}

	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("ReadFrame on empty stream err = %v, want EOF", err)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	f := NewFrame(FramePatches, make([]byte, MaxPayloadSize+1))
	if err := WriteFrame(io.Discard, f); err != ErrFrameTooLarge {
		t.Errorf("WriteFrame oversized err = %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameMaxPayload(t *testing.T) {
	f := NewFrame(FramePatches, make([]byte, MaxPayloadSize))

	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame at max size failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame at max size failed: %v", err)
	}
	if len(got.Payload) != MaxPayloadSize {
		t.Errorf("payload length = %d, want %d", len(got.Payload), MaxPayloadSize)
	}
}

func TestFrameTypeString(t *testing.T) {
	cases := []struct {
		ft   FrameType
		want string
	}{
		{FrameHandshake, "Handshake"},
		{FrameEvent, "Event"},
		{FramePatches, "Patches"},
		{FrameControl, "Control"},
		{FrameAck, "Ack"},
		{FrameError, "Error"},
		{FrameType(0x7F), "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.ft.String(); got != tc.want {
			t.Errorf("FrameType(%d).String() = %q, want %q", tc.ft, got, tc.want)
		}
	}
}

func TestFrameEncodeTo(t *testing.T) {
	f := NewFrame(FrameEvent, []byte{0xCA, 0xFE})

	e := NewEncoder()
	f.EncodeTo(e)

	if !bytes.Equal(e.Bytes(), f.Encode()) {
		t.Errorf("EncodeTo = % x, Encode = % x; want identical", e.Bytes(), f.Encode())
	}
}
