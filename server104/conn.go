package server104

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridstream/go-iec60870/apci"
	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/event"
	"github.com/gridstream/go-iec60870/internal/diag"
	"github.com/gridstream/go-iec60870/transport"
)

// Conn (the data model's Connection entity) is one accepted peer: its
// APCI state, assigned redundancy group, and activation state. It is
// created on TCP accept and destroyed on TCP close, mirroring the
// teacher's server.go Conn wrapper (there a bare net.Conn embed; here
// the full sliding-window role engine).
type Conn struct {
	opt    *Option
	stream transport.ByteStream
	group  *redundancyGroup // nil in ModeMulti

	ctx context.Context

	mu  sync.Mutex
	win *apci.Window

	activated int32

	sendRaw chan []byte

	testfrOutstanding bool
	testfrSentAt      time.Time

	// closed guards against closing this connection (and raising its
	// KindClosed event) more than once, when the I-frame/S-frame ack
	// check, a timer expiry, and the normal serve-loop exit race to
	// close it concurrently.
	closed      int32
	corrID      string
	diagSampler diag.Sampler
}

func newConn(opt *Option, stream transport.ByteStream, group *redundancyGroup) *Conn {
	return &Conn{
		opt:         opt,
		stream:      stream,
		group:       group,
		win:         apci.NewWindow(opt.apciParams),
		sendRaw:     make(chan []byte, 16),
		corrID:      event.NewCorrID(),
		diagSampler: diag.NewSampler(),
	}
}

// Status reports a best-effort OS-level TCP diagnostic snapshot for this
// connection (RTT, retransmits) alongside the APCI outstanding count.
// ok is false when diagnostics aren't available on this platform or the
// underlying stream isn't backed by a real net.Conn.
func (c *Conn) Status() (info diag.TCPInfo, outstanding int, ok bool) {
	c.mu.Lock()
	outstanding = c.win.OutstandingCount()
	c.mu.Unlock()

	uw, isUnwrappable := c.stream.(transport.Unwrapper)
	if !isUnwrappable {
		return diag.TCPInfo{}, outstanding, false
	}
	info, ok = c.diagSampler.Sample(uw.Unwrap())
	return info, outstanding, ok
}

// closeWithReason closes the underlying stream and raises a single
// KindClosed event, no matter how many callers race to close this
// connection concurrently (only the first wins the CAS).
func (c *Conn) closeWithReason(reason string, err error) {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindClosed, Peer: c.RemoteAddr(), CorrID: c.corrID, Reason: reason, Err: err})
	_ = c.stream.Close()
}

// RemoteAddr returns the peer's address for logging/correlation.
func (c *Conn) RemoteAddr() string {
	return c.stream.RemoteAddr()
}

// CorrID returns the correlation ID assigned to this connection at
// accept time, used to tie together its log lines and events.
func (c *Conn) CorrID() string { return c.corrID }

// IsActivated reports whether this connection has completed STARTDT
// and (in ModeRedundant) currently holds its group's active slot.
func (c *Conn) IsActivated() bool {
	return atomic.LoadInt32(&c.activated) == 1
}

// Send transmits a as an I-frame if the connection is activated and
// the send window has room.
func (c *Conn) Send(a *asdu.ASDU) error {
	if !c.IsActivated() {
		return fmt.Errorf("server104: connection %s not activated", c.RemoteAddr())
	}
	body, err := a.MarshalBinary()
	if err != nil {
		return fmt.Errorf("server104: marshal asdu: %w", err)
	}

	c.mu.Lock()
	if !c.win.CanSend() {
		c.mu.Unlock()
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.WindowFull()
		}
		return apci.ErrWindowFull
	}
	seq, err := c.win.Send(time.Now())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	recvSN := c.win.RecvSN()
	c.win.AckReceived()
	c.mu.Unlock()

	frame, err := apci.EncodeI(seq, recvSN, body)
	if err != nil {
		return err
	}
	c.sendRaw <- frame
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.FrameSent("I")
	}
	return nil
}

// SendCommands validates cmds, groups them by (TypeID, CommonAddr) per
// spec.md §9, and sends one I-frame per resulting ASDU to this peer.
func (c *Conn) SendCommands(cmds []asdu.Command) error {
	asdus, err := asdu.BuildCommands(&c.opt.asduParams, cmds)
	if err != nil {
		return err
	}
	for _, a := range asdus {
		if err := c.Send(a); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) sendU(fn apci.UFunction) {
	c.sendRaw <- apci.EncodeU(fn)
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.FrameSent("U")
	}
}

func (c *Conn) sendS() {
	c.mu.Lock()
	recvSN := c.win.RecvSN()
	c.win.AckReceived()
	c.mu.Unlock()
	c.sendRaw <- apci.EncodeS(recvSN)
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.FrameSent("S")
	}
}

// serve drives the connection until ctx is cancelled or the peer
// disconnects. It never initiates STARTDT: activation is always
// peer-driven for a controlled station.
func (c *Conn) serve(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = cctx

	if c.opt.metricsSet != nil {
		c.opt.metricsSet.ConnectionOpened()
	}
	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindOpened, Peer: c.RemoteAddr(), CorrID: c.corrID})
	defer func() {
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.ConnectionClosed()
		}
		c.closeWithReason("serve loop exited", nil)
		if c.group != nil {
			c.group.Deactivate(c)
		}
		if atomic.CompareAndSwapInt32(&c.activated, 1, 0) && c.opt.onDeactivate != nil {
			c.opt.onDeactivate(c)
		}
	}()

	go c.writeLoop(cctx)
	go c.timerLoop(cctx)
	c.readLoop(cctx)
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.sendRaw:
			if _, err := c.stream.Write(data); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := c.stream.Read(chunk, time.Now().Add(2*time.Second))
		if err != nil {
			if isTimeout(err) {
				continue
			}
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.RemoteAddr(), CorrID: c.corrID, Reason: "transport read error", Err: err})
			c.closeWithReason("transport read error", err)
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			apdu, consumed, perr := apci.Parse(buf)
			if perr != nil {
				if apci.IsIncomplete(perr) {
					break
				}
				if c.opt.metricsSet != nil {
					c.opt.metricsSet.FrameDiscarded("parse_error")
				}
				buf = buf[consumed:]
				continue
			}
			buf = buf[consumed:]
			c.handleAPDU(apdu)
		}
	}
}

func (c *Conn) handleAPDU(apdu apci.APDU) {
	switch apdu.Kind {
	case apci.KindI:
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.FrameReceived("I")
		}
		// STOPDT suspends outbound I-frame traffic, not inbound: a
		// received I-frame is still parsed and dispatched while
		// deactivated, only Conn.Send refuses to transmit.
		c.mu.Lock()
		ackErr := c.win.Ack(apdu.RecvSN)
		needsAck := c.win.Receive(apdu.SendSN, time.Now())
		c.mu.Unlock()
		if ackErr != nil {
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.RemoteAddr(), CorrID: c.corrID, Reason: "APCI k exceeded by peer", Err: ackErr})
			c.closeWithReason("APCI k exceeded by peer", ackErr)
			return
		}

		a, err := asdu.ParseASDU(&c.opt.asduParams, apdu.ASDU)
		if err != nil {
			if c.opt.metricsSet != nil {
				c.opt.metricsSet.FrameDiscarded("asdu_parse_error")
			}
			return
		}
		if needsAck {
			c.sendS()
		}
		if c.opt.handler != nil {
			c.opt.handler(c, a)
		}

	case apci.KindS:
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.FrameReceived("S")
		}
		c.mu.Lock()
		ackErr := c.win.Ack(apdu.RecvSN)
		c.mu.Unlock()
		if ackErr != nil {
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.RemoteAddr(), CorrID: c.corrID, Reason: "APCI k exceeded by peer", Err: ackErr})
			c.closeWithReason("APCI k exceeded by peer", ackErr)
		}

	case apci.KindU:
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.FrameReceived("U")
		}
		switch apdu.UFunc {
		case apci.UStartDTAct:
			c.onStartDT(c.ctx)
		case apci.UStopDTAct:
			c.onStopDT()
		case apci.UTestFRAct:
			c.sendU(apci.UTestFRCon)
		case apci.UTestFRCon:
			c.mu.Lock()
			c.testfrOutstanding = false
			c.mu.Unlock()
		}
	}
}

// onStartDT confirms activation once this connection may take the
// group's (or, in ModeMulti, its own unconditional) active slot. In
// ModeRedundant, if another connection already holds the slot, this
// peer's STARTDT is left unconfirmed until that connection
// deactivates (spec.md invariant P5: at most one active per group;
// scenario "Redundancy failover").
func (c *Conn) onStartDT(ctx context.Context) {
	if c.group == nil {
		c.activate()
		return
	}
	if c.group.TryActivate(c) {
		c.activate()
		return
	}
	go c.awaitActivation(ctx)
}

func (c *Conn) awaitActivation(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.group.WaitFreed():
			if c.group.TryActivate(c) {
				c.activate()
				return
			}
		}
	}
}

func (c *Conn) activate() {
	c.mu.Lock()
	c.win.Reset()
	c.mu.Unlock()
	atomic.StoreInt32(&c.activated, 1)
	c.sendU(apci.UStartDTCon)
	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindActivated, Peer: c.RemoteAddr(), CorrID: c.corrID})
	if c.opt.onActivate != nil {
		c.opt.onActivate(c)
	}
}

func (c *Conn) onStopDT() {
	atomic.StoreInt32(&c.activated, 0)
	c.sendU(apci.UStopDTCon)
	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindDeactivated, Peer: c.RemoteAddr(), CorrID: c.corrID})
	if c.group != nil {
		c.group.Deactivate(c)
	}
	if c.opt.onDeactivate != nil {
		c.opt.onDeactivate(c)
	}
}

func (c *Conn) timerLoop(ctx context.Context) {
	tick := c.opt.apciParams.T2 / 4
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.checkTimers(now)
		}
	}
}

func (c *Conn) checkTimers(now time.Time) {
	c.mu.Lock()
	oldest, hasOutstanding := c.win.OldestUnacked()
	unacked := c.win.UnackedReceived()
	lastRecv := c.win.LastRecvAt()
	idle := c.win.IdleSince(now)
	testfrOutstanding := c.testfrOutstanding
	testfrSentAt := c.testfrSentAt
	c.mu.Unlock()

	if hasOutstanding && now.Sub(oldest) > c.opt.apciParams.T1 {
		c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.RemoteAddr(), CorrID: c.corrID, Reason: "t1 timeout: unacknowledged I-frame"})
		c.closeWithReason("t1 timeout: unacknowledged I-frame", nil)
		return
	}
	if unacked > 0 && !lastRecv.IsZero() && now.Sub(lastRecv) > c.opt.apciParams.T2 {
		c.sendS()
	}
	if testfrOutstanding {
		if now.Sub(testfrSentAt) > c.opt.apciParams.T1 {
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.RemoteAddr(), CorrID: c.corrID, Reason: "TESTFR timeout"})
			c.closeWithReason("TESTFR timeout", nil)
		}
		return
	}
	if idle > c.opt.apciParams.T3 {
		c.mu.Lock()
		c.testfrOutstanding = true
		c.testfrSentAt = now
		c.win.Touch(now)
		c.mu.Unlock()
		c.sendU(apci.UTestFRAct)
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
