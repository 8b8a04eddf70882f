package protocol

import (
	"io"
	"testing"
)

func TestClientHelloRoundTrip(t *testing.T) {
	ch := NewClientHello()

	got, err := DecodeClientHello(EncodeClientHello(ch))
	if err != nil {
		t.Fatalf("DecodeClientHello failed: %v", err)
	}
	if got.Version != CurrentVersion {
		t.Errorf("Version = %+v, want %+v", got.Version, CurrentVersion)
	}
	if got.SessionID != "" || got.LastVersion != 0 {
		t.Errorf("fresh hello = (%q, %d), want empty session and version 0", got.SessionID, got.LastVersion)
	}
}

func TestResumeHelloRoundTrip(t *testing.T) {
	ch := NewResumeHello("sess-abc123", 57)

	got, err := DecodeClientHello(EncodeClientHello(ch))
	if err != nil {
		t.Fatalf("DecodeClientHello failed: %v", err)
	}
	if got.SessionID != "sess-abc123" {
		t.Errorf("SessionID = %q, want \"sess-abc123\"", got.SessionID)
	}
	if got.LastVersion != 57 {
		t.Errorf("LastVersion = %d, want 57", got.LastVersion)
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	sh := NewServerHello("sess-xyz", 9, 1700000000123)

	got, err := DecodeServerHello(EncodeServerHello(sh))
	if err != nil {
		t.Fatalf("DecodeServerHello failed: %v", err)
	}
	if got.Status != HandshakeOK {
		t.Errorf("Status = %v, want OK", got.Status)
	}
	if got.SessionID != "sess-xyz" || got.Version != 9 {
		t.Errorf("decoded = (%q, %d), want (\"sess-xyz\", 9)", got.SessionID, got.Version)
	}
	if got.ServerTime != 1700000000123 {
		t.Errorf("ServerTime = %d, want 1700000000123", got.ServerTime)
	}
}

func TestServerHelloError(t *testing.T) {
	sh := NewServerHelloError(HandshakeSessionExpired)

	got, err := DecodeServerHello(EncodeServerHello(sh))
	if err != nil {
		t.Fatalf("DecodeServerHello failed: %v", err)
	}
	if got.Status != HandshakeSessionExpired {
		t.Errorf("Status = %v, want SessionExpired", got.Status)
	}
	if got.SessionID != "" || got.Version != 0 {
		t.Errorf("error hello carries session data: %+v", got)
	}
}

func TestHandshakeTruncated(t *testing.T) {
	if _, err := DecodeClientHello([]byte{0x01}); err != io.ErrUnexpectedEOF {
		t.Errorf("DecodeClientHello(short) err = %v, want ErrUnexpectedEOF", err)
	}
	if _, err := DecodeServerHello(nil); err != io.ErrUnexpectedEOF {
		t.Errorf("DecodeServerHello(empty) err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestHandshakeStatusString(t *testing.T) {
	cases := []struct {
		hs   HandshakeStatus
		want string
	}{
		{HandshakeOK, "OK"},
		{HandshakeVersionMismatch, "VersionMismatch"},
		{HandshakeSessionExpired, "SessionExpired"},
		{HandshakeServerBusy, "ServerBusy"},
		{HandshakeLimitExceeded, "LimitExceeded"},
		{HandshakeInvalidFormat, "InvalidFormat"},
		{HandshakeInternalError, "InternalError"},
		{HandshakeStatus(0x99), "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.hs.String(); got != tc.want {
			t.Errorf("HandshakeStatus(%d).String() = %q, want %q", tc.hs, got, tc.want)
		}
	}
}
