package apci

import (
	"testing"
	"time"
)

func TestEncodeParseIFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	encoded, err := EncodeI(5, 9, payload)
	if err != nil {
		t.Fatalf("EncodeI: %v", err)
	}

	apdu, n, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if apdu.Kind != KindI || apdu.SendSN != 5 || apdu.RecvSN != 9 {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
	if string(apdu.ASDU) != string(payload) {
		t.Fatalf("asdu payload mismatch: %v", apdu.ASDU)
	}
}

func TestEncodeParseSFrame(t *testing.T) {
	encoded := EncodeS(42)
	apdu, n, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != 6 || apdu.Kind != KindS || apdu.RecvSN != 42 {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
}

func TestEncodeParseUFrame(t *testing.T) {
	encoded := EncodeU(UStartDTAct)
	apdu, _, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if apdu.Kind != KindU || apdu.UFunc != UStartDTAct {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
}

func TestParseIncompleteWaitsForMore(t *testing.T) {
	encoded := EncodeS(1)
	_, _, err := Parse(encoded[:3])
	if !IsIncomplete(err) {
		t.Fatalf("expected incomplete, got %v", err)
	}
}

func TestParseBadStartByteConsumesOne(t *testing.T) {
	_, n, err := Parse([]byte{0x00, 0x04, 0, 0, 0, 0})
	if err == nil || n != 1 {
		t.Fatalf("expected 1-byte resync on bad start byte, got n=%d err=%v", n, err)
	}
}

func TestSeqLessHalfWindowRule(t *testing.T) {
	if !SeqLess(0, 1) {
		t.Fatalf("0 should precede 1")
	}
	if SeqLess(1, 0) {
		t.Fatalf("1 should not precede 0")
	}
	// Wraparound: 32766 precedes 2 (distance 4, within half window).
	if !SeqLess(32766, 2) {
		t.Fatalf("32766 should precede 2 across wraparound")
	}
	if SeqLess(2, 32766) {
		t.Fatalf("2 should not precede 32766 (that direction is the long way around)")
	}
}

func TestWindowSendRespectsK(t *testing.T) {
	w := NewWindow(Params{K: 2, W: 1, T0: time.Second, T1: time.Second, T2: time.Second, T3: time.Second})
	now := time.Unix(0, 0)

	if _, err := w.Send(now); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := w.Send(now); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if _, err := w.Send(now); err != ErrWindowFull {
		t.Fatalf("expected ErrWindowFull, got %v", err)
	}
}

func TestWindowAckDrainsOutstanding(t *testing.T) {
	w := NewWindow(DefaultParams)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		if _, err := w.Send(now); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if w.OutstandingCount() != 3 {
		t.Fatalf("outstanding = %d, want 3", w.OutstandingCount())
	}
	if err := w.Ack(2); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if w.OutstandingCount() != 1 {
		t.Fatalf("outstanding after ack = %d, want 1", w.OutstandingCount())
	}
	if err := w.Ack(3); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if w.OutstandingCount() != 0 {
		t.Fatalf("outstanding after full ack = %d, want 0", w.OutstandingCount())
	}
}

func TestWindowAckRejectsUnknownSequence(t *testing.T) {
	w := NewWindow(DefaultParams)
	if err := w.Ack(7); err == nil {
		t.Fatalf("expected error acknowledging a sequence never sent")
	}
}

func TestWindowReceiveTriggersAckAtW(t *testing.T) {
	w := NewWindow(Params{K: 12, W: 2, T0: time.Second, T1: time.Second, T2: time.Second, T3: time.Second})
	now := time.Unix(0, 0)

	if needsAck := w.Receive(0, now); needsAck {
		t.Fatalf("should not need ack after first frame")
	}
	if needsAck := w.Receive(1, now); !needsAck {
		t.Fatalf("should need ack once w frames have arrived unacknowledged")
	}
	if w.RecvSN() != 2 {
		t.Fatalf("RecvSN = %d, want 2", w.RecvSN())
	}
	w.AckReceived()
	if w.UnackedReceived() != 0 {
		t.Fatalf("UnackedReceived after AckReceived = %d, want 0", w.UnackedReceived())
	}
}
