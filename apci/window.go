package apci

import (
	"errors"
	"time"
)

// ErrWindowFull is returned by Window.Send when k unacknowledged
// I-frames are already outstanding (spec.md §4.5, back-pressure).
var ErrWindowFull = errors.New("apci: send window full")

// pendingFrame is one unacknowledged outbound I-frame.
type pendingFrame struct {
	seq  uint16
	sent time.Time
}

// Window tracks the send and receive sequence-number state of one
// CS104 connection: the sliding send window bounded by k, the
// received-but-unacknowledged count bounded by w, and the bookkeeping
// needed to drive t1/t2/t3.
type Window struct {
	params Params

	sendSN uint16 // next N(S) to assign
	ackSN  uint16 // oldest unacknowledged N(S)
	outstanding []pendingFrame

	recvSN       uint16 // next expected N(R) from the peer
	unackedRecvd int    // I-frames received since our last S-ack
	lastRecvAt   time.Time

	lastActivity time.Time // for t3 idle tracking
}

// NewWindow creates a Window in the initial (STOPDT) sequence state.
func NewWindow(params Params) *Window {
	return &Window{params: params}
}

// Reset zeroes all sequence state, as happens on a fresh STARTDT
// confirmation.
func (w *Window) Reset() {
	w.sendSN, w.ackSN, w.recvSN = 0, 0, 0
	w.outstanding = w.outstanding[:0]
	w.unackedRecvd = 0
}

// CanSend reports whether another I-frame may be sent without
// exceeding k outstanding acknowledgements.
func (w *Window) CanSend() bool {
	return len(w.outstanding) < w.params.K
}

// Send assigns the next N(S) for an outbound I-frame and records it as
// outstanding. Send does not encode the frame itself; the caller embeds
// our current N(R) (RecvSN) when it encodes the frame.
func (w *Window) Send(now time.Time) (seq uint16, err error) {
	if !w.CanSend() {
		return 0, ErrWindowFull
	}
	seq = w.sendSN
	w.outstanding = append(w.outstanding, pendingFrame{seq: seq, sent: now})
	w.sendSN = seqAdvance(w.sendSN)
	w.lastActivity = now
	return seq, nil
}

// Ack removes all outstanding frames whose N(S) precedes recvSN (up to
// and including recvSN-1), acknowledged by a peer I- or S-frame. It
// reports an error if recvSN does not correspond to any outstanding (or
// previously sent) frame.
func (w *Window) Ack(recvSN uint16) error {
	if recvSN == w.ackSN {
		return nil
	}
	// Walk from the front: acknowledge every outstanding frame whose
	// sequence number precedes recvSN, plus the one equal to recvSN-1.
	cut := 0
	for cut < len(w.outstanding) {
		p := w.outstanding[cut]
		cut++
		if p.seq == (recvSN-1)&0x7fff {
			w.outstanding = w.outstanding[cut:]
			w.ackSN = recvSN
			return nil
		}
		if !SeqLess(p.seq, recvSN) {
			return errInvalidAck
		}
	}
	return errInvalidAck
}

var errInvalidAck = errors.New("apci: peer acknowledged a sequence number we never sent")

// OldestUnacked returns the send time of the oldest outstanding frame
// and whether one exists; t1 is measured from this instant.
func (w *Window) OldestUnacked() (time.Time, bool) {
	if len(w.outstanding) == 0 {
		return time.Time{}, false
	}
	return w.outstanding[0].sent, true
}

// OutstandingCount reports how many sent I-frames await acknowledgement.
func (w *Window) OutstandingCount() int {
	return len(w.outstanding)
}

// Receive records an inbound I-frame's N(S), advances our expected
// N(R), and reports whether the accumulated unacked-received count now
// requires an immediate S-frame (w reached).
func (w *Window) Receive(sendSN uint16, now time.Time) (needsAck bool) {
	w.recvSN = seqAdvance(sendSN)
	w.unackedRecvd++
	w.lastRecvAt = now
	w.lastActivity = now
	return w.unackedRecvd >= w.params.W
}

// RecvSN returns our current N(R), to embed in outgoing I- or S-frames.
func (w *Window) RecvSN() uint16 {
	return w.recvSN
}

// AckReceived clears the unacked-received counter after an S-frame (or
// piggy-backed I-frame N(R)) has been sent.
func (w *Window) AckReceived() {
	w.unackedRecvd = 0
}

// UnackedReceived reports how many I-frames have arrived since we last
// sent an acknowledgement; used to drive t2.
func (w *Window) UnackedReceived() int {
	return w.unackedRecvd
}

// LastRecvAt returns the time of the most recently received I-frame,
// for t2 scheduling.
func (w *Window) LastRecvAt() time.Time {
	return w.lastRecvAt
}

// IdleSince reports how long has elapsed since any I- or S-frame
// activity, for t3 (connection test) scheduling.
func (w *Window) IdleSince(now time.Time) time.Duration {
	if w.lastActivity.IsZero() {
		return 0
	}
	return now.Sub(w.lastActivity)
}

// Touch records non-sequence-number activity (S-frame, U-frame) for t3
// idle tracking.
func (w *Window) Touch(now time.Time) {
	w.lastActivity = now
}
