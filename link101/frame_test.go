package link101

import (
	"bytes"
	"testing"
)

func TestFixedFrameRoundTrip(t *testing.T) {
	control := byte(FuncResetRemoteLink) | PRM | FCV
	encoded := EncodeFixed(control, 5, 1)

	frame, n, err := ParseFrame(encoded, 1)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if frame.Kind != TypeFixed || frame.Control != control || frame.Address != 5 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestVariableFrameRoundTrip(t *testing.T) {
	control := byte(FuncUserDataConfirmed) | PRM | FCV | FCB
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	encoded := EncodeVariable(control, 42, 2, payload)

	frame, n, err := ParseFrame(encoded, 2)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if frame.Control != control || frame.Address != 42 || !bytes.Equal(frame.Data, payload) {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestSingleCharACK(t *testing.T) {
	encoded := EncodeSingleCharACK()
	frame, n, err := ParseFrame(encoded, 1)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if n != 1 || frame.Kind != TypeSingleChar {
		t.Fatalf("unexpected frame: %+v, n=%d", frame, n)
	}
}

func TestParseFrameIncompleteWaitsForMore(t *testing.T) {
	full := EncodeFixed(byte(FuncTestLink)|PRM, 1, 1)
	_, _, err := ParseFrame(full[:2], 1)
	if !IsIncomplete(err) {
		t.Fatalf("expected incomplete error, got %v", err)
	}
}

func TestParseFrameChecksumMismatchIsNonFatal(t *testing.T) {
	encoded := EncodeFixed(byte(FuncTestLink)|PRM, 1, 1)
	corrupt := append([]byte{}, encoded...)
	corrupt[2] ^= 0xff // flip the address byte so the checksum no longer matches

	_, n, err := ParseFrame(corrupt, 1)
	if err == nil {
		t.Fatalf("expected a checksum-mismatch error")
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes on mismatch, want %d so caller can resync", n, len(encoded))
	}
}

func TestUnbalancedFCBToggleOnSuccessOnly(t *testing.T) {
	s := NewSlaveContext(1)
	first := s.NextConfirmedFCB()
	if first != false {
		t.Fatalf("initial FCB = %v, want false", first)
	}
	s.RecordSuccess()

	second := s.NextConfirmedFCB()
	if second != true {
		t.Fatalf("second FCB = %v, want true (toggled after success)", second)
	}

	// A retransmission must reuse, not toggle.
	if got := s.LastFCB(); got != true {
		t.Fatalf("LastFCB = %v, want true", got)
	}
}

func TestUnbalancedRetryThreshold(t *testing.T) {
	s := NewSlaveContext(1)
	for i := 0; i < 3; i++ {
		if exceeded := s.RecordFailure(3); exceeded {
			t.Fatalf("exceeded too early at retry %d", i+1)
		}
	}
	if exceeded := s.RecordFailure(3); !exceeded {
		t.Fatalf("expected retries to exceed threshold on the 4th failure")
	}
}
