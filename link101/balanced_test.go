package link101

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a mutex-protected byte buffer whose Read retries until
// data appears or the deadline passes, modelling a blocking serial port
// closely enough for these tests without a real OS pipe.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Read(p []byte, deadline time.Time) (int, error) {
	for {
		b.mu.Lock()
		if b.buf.Len() > 0 {
			n, err := b.buf.Read(p)
			b.mu.Unlock()
			return n, err
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, errTimeout{}
		}
		time.Sleep(time.Millisecond)
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }

// loopbackPort wires two BalancedSessions together in-process: writes
// from one side become readable on the other, modelling the shared
// line a balanced link runs over.
type loopbackPort struct {
	aToB syncBuffer
	bToA syncBuffer
}

type sideA struct{ lb *loopbackPort }
type sideB struct{ lb *loopbackPort }

func (s sideA) Write(buf []byte) (int, error) { return s.lb.aToB.Write(buf) }
func (s sideA) Read(buf []byte, deadline time.Time) (int, error) {
	return s.lb.bToA.Read(buf, deadline)
}

func (s sideB) Write(buf []byte) (int, error) { return s.lb.bToA.Write(buf) }
func (s sideB) Read(buf []byte, deadline time.Time) (int, error) {
	return s.lb.aToB.Read(buf, deadline)
}

func TestBalancedSessionSendConfirmedDeliversAndAcks(t *testing.T) {
	lb := &loopbackPort{}
	params := DefaultParams

	a := NewBalancedSession(sideA{lb}, params, 7)
	b := NewBalancedSession(sideB{lb}, params, 7)

	sendDone := make(chan error, 1)
	go func() { sendDone <- a.SendConfirmed([]byte{0x01, 0x02, 0x03}) }()

	data, ok := b.ReceiveConfirmed(time.Now().Add(2 * time.Second))
	if !ok {
		t.Fatalf("b.ReceiveConfirmed: expected to receive a's confirmed frame")
	}
	if !bytes.Equal(data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("received data = %v, want [1 2 3]", data)
	}

	if err := <-sendDone; err != nil {
		t.Fatalf("a.SendConfirmed: %v", err)
	}
}

func TestBalancedSessionRejectsDuplicateFCB(t *testing.T) {
	lb := &loopbackPort{}
	params := DefaultParams
	b := NewBalancedSession(sideB{lb}, params, 7)

	// Write the same USER_DATA_CONFIRMED frame (FCB=false) twice, as a
	// retransmit after a lost ACK would appear on the wire.
	control := byte(FuncUserDataConfirmed) | PRM | FCV
	frame := EncodeVariable(control, 7, params.AddressLength, []byte{0xAA})
	if _, err := lb.aToB.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lb.aToB.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	data, ok := b.ReceiveConfirmed(deadline)
	if !ok || !bytes.Equal(data, []byte{0xAA}) {
		t.Fatalf("first ReceiveConfirmed: data=%v ok=%v, want [0xAA] true", data, ok)
	}

	// The retransmit must still be acked but not redelivered as fresh.
	_, ok = b.ReceiveConfirmed(deadline)
	if ok {
		t.Fatalf("retransmitted frame should not be reported as a fresh delivery")
	}
}

func TestBalancedStateAcceptFreshVsRetransmit(t *testing.T) {
	var s BalancedState
	if fresh := s.Accept(DirectionInbound, false); !fresh {
		t.Fatalf("first frame in a direction must be fresh")
	}
	if fresh := s.Accept(DirectionInbound, false); fresh {
		t.Fatalf("repeated FCB must not be reported fresh")
	}
	if fresh := s.Accept(DirectionInbound, true); !fresh {
		t.Fatalf("toggled FCB must be reported fresh")
	}
	s.Reset()
	if fresh := s.Accept(DirectionInbound, true); !fresh {
		t.Fatalf("after Reset, the next frame in any direction must be fresh again")
	}
}
