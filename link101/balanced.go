package link101

import (
	"fmt"
	"time"
)

// Direction distinguishes the two independent FCB sequences a balanced
// link maintains (spec.md §4.4: "each maintains independent FCB state
// keyed by direction").
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// BalancedState tracks FCB per direction for one balanced link. Both
// peers run an identical BalancedState; "reset of remote link"
// synchronizes the two copies at startup.
type BalancedState struct {
	fcb  [2]bool
	seen [2]bool // false until the first confirmed frame in dir is observed
}

// NextFCB returns the FCB for the next new confirmed request in dir and
// flips it for next time.
func (b *BalancedState) NextFCB(dir Direction) bool {
	fcb := b.fcb[dir]
	b.fcb[dir] = !b.fcb[dir]
	return fcb
}

// LastFCB returns the FCB used by the most recent confirmed request in
// dir, for reuse on retransmission.
func (b *BalancedState) LastFCB(dir Direction) bool {
	return !b.fcb[dir]
}

// Accept records an inbound confirmed frame's FCB for dir and reports
// whether it is fresh (not a retransmit of the last-seen frame): the
// first frame in dir is always fresh, and subsequent frames are fresh
// only when their FCB differs from the previously accepted one, the
// same continuity rule unbalanced mode applies via SlaveContext.
func (b *BalancedState) Accept(dir Direction, fcb bool) (fresh bool) {
	if !b.seen[dir] || fcb != b.fcb[dir] {
		fresh = true
		b.fcb[dir] = fcb
		b.seen[dir] = true
	}
	return fresh
}

// Reset resynchronizes both directions to FCB=false, as performed on
// "reset of remote link".
func (b *BalancedState) Reset() {
	b.fcb[DirectionOutbound] = false
	b.fcb[DirectionInbound] = false
	b.seen[DirectionOutbound] = false
	b.seen[DirectionInbound] = false
}

// Port is the shared byte channel a BalancedSession reads/writes frames
// over. In balanced mode either peer may act as primary at any moment,
// so unlike the unbalanced master/slave Port interfaces this one is
// used for both outbound initiation and inbound servicing.
type Port interface {
	Read(buf []byte, deadline time.Time) (int, error)
	Write(buf []byte) (int, error)
}

// BalancedSession (the data model's balanced-link peer) drives one side
// of an FT 1.2 balanced-mode link: it can originate a confirmed request
// of its own (SendConfirmed) and, independently, service a confirmed
// request the other side originates (ReceiveConfirmed), each keyed by
// its own Direction in a shared BalancedState. Grounded on
// master101.Master's confirmed-request retry loop and slave101.Slave's
// frame-reading/acking halves, unified here because balanced mode has
// no primary/secondary distinction.
type BalancedSession struct {
	port    Port
	params  Params
	address uint16
	state   BalancedState
}

// NewBalancedSession constructs a session for one end of a balanced
// link at address, synchronized to FCB=false until a reset is
// exchanged.
func NewBalancedSession(port Port, params Params, address uint16) *BalancedSession {
	return &BalancedSession{port: port, params: params, address: address}
}

// SendConfirmed transmits data as a confirmed USER_DATA frame,
// retrying up to params.MaxRetries times on a missing or NACKed reply,
// reusing the prior FCB on retransmission (spec.md invariant: "retries
// reuse the prior FCB without toggling").
func (b *BalancedSession) SendConfirmed(data []byte) error {
	fcb := b.state.NextFCB(DirectionOutbound)
	for attempt := 0; attempt <= b.params.MaxRetries; attempt++ {
		if attempt > 0 {
			fcb = b.state.LastFCB(DirectionOutbound)
		}
		control := byte(FuncUserDataConfirmed) | PRM | FCV
		if fcb {
			control |= FCB
		}
		frame := EncodeVariable(control, b.address, b.params.AddressLength, data)
		if _, err := b.port.Write(frame); err != nil {
			continue
		}

		resp, ok := b.readFrame(time.Now().Add(b.params.TimeoutForAck))
		if !ok {
			continue
		}
		if resp.Kind == TypeSingleChar || resp.FuncCode() == FuncAck {
			return nil
		}
		if resp.FuncCode() == FuncNack {
			continue
		}
	}
	return fmt.Errorf("link101: confirmed send to %d exhausted %d retries", b.address, b.params.MaxRetries)
}

// ReceiveConfirmed reads one primary-originated USER_DATA_CONFIRMED
// frame addressed to this session before deadline, acknowledges it, and
// returns its payload. ok is false on timeout, a frame addressed
// elsewhere, or a stale retransmit (already-acknowledged, so it is
// re-acked but not redelivered).
func (b *BalancedSession) ReceiveConfirmed(deadline time.Time) (data []byte, ok bool) {
	frame, got := b.readFrame(deadline)
	if !got || !frame.PRM() || frame.Address != b.address {
		return nil, false
	}
	if frame.FuncCode() != FuncUserDataConfirmed {
		return nil, false
	}
	fresh := b.state.Accept(DirectionInbound, frame.FCB())
	b.ack()
	if !fresh {
		return nil, false
	}
	return frame.Data, true
}

func (b *BalancedSession) ack() {
	if b.params.UseSingleCharACK {
		_, _ = b.port.Write(EncodeSingleCharACK())
		return
	}
	_, _ = b.port.Write(EncodeFixed(byte(FuncAck), b.address, b.params.AddressLength))
}

func (b *BalancedSession) readFrame(deadline time.Time) (Frame, bool) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := b.port.Read(chunk, deadline)
		if err != nil {
			return Frame{}, false
		}
		buf = append(buf, chunk[:n]...)
		frame, _, perr := ParseFrame(buf, b.params.AddressLength)
		if perr != nil {
			if IsIncomplete(perr) {
				continue
			}
			return Frame{}, false
		}
		return frame, true
	}
	return Frame{}, false
}
