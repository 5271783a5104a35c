// Package client104 implements the CS104 controlling station (master):
// one TCP (or TLS) connection driving the APCI sliding window and
// STARTDT/STOPDT/TESTFR handshake, delivering decoded ASDUs to an
// application handler. Grounded on the teacher's client.go/
// client_option.go goroutine-per-direction shape, generalized from the
// teacher's stub APCI handling to the complete sliding-window engine.
package client104

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridstream/go-iec60870/apci"
	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/event"
	"github.com/gridstream/go-iec60870/internal/diag"
	"github.com/gridstream/go-iec60870/transport"
)

// Client is a CS104 controlling-station connection. It is also called
// the master or controlling station; the peer it dials is the slave
// or controlled station.
type Client struct {
	opt    *Option
	dialer transport.Dialer
	stream transport.ByteStream

	ctx    context.Context
	cancel context.CancelFunc

	sendRaw chan []byte

	mu  sync.Mutex
	win *apci.Window

	startdtConfirmed chan struct{}
	stopdtConfirmed  chan struct{}
	testfrOutstanding bool
	testfrSentAt      time.Time

	closed int32

	// stopReconnect is closed exactly once, by Close, to end any
	// in-flight or future reconnect loop permanently.
	stopReconnect chan struct{}
	closeOnce     sync.Once

	corrID      string
	diagSampler diag.Sampler
	lg          *logrus.Entry
}

// CorrID returns the correlation ID assigned to this connection at
// Connect time, used to tie together its log lines and events.
func (c *Client) CorrID() string { return c.corrID }

// New constructs a Client from opt. Connect must be called before any
// ASDU can be sent.
func New(opt *Option, lg *logrus.Logger) *Client {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Client{
		opt:           opt,
		dialer:        &transport.TCPDialer{TLSConfig: opt.tlsConfig, Timeout: opt.connectTimeout},
		sendRaw:       make(chan []byte, 16),
		win:           apci.NewWindow(opt.apciParams),
		stopReconnect: make(chan struct{}),
		diagSampler:   diag.NewSampler(),
		lg:            logrus.NewEntry(lg),
	}
}

// peerAddr returns the remote address for event/log correlation, falling
// back to the configured server address before a stream exists (e.g.
// while a reconnect attempt is still dialing).
func (c *Client) peerAddr() string {
	if c.stream != nil {
		return c.stream.RemoteAddr()
	}
	return c.opt.server.Host
}

// Status reports a best-effort OS-level TCP diagnostic snapshot for the
// current connection (RTT, retransmits) alongside the APCI outstanding
// count. ok is false when diagnostics aren't available on this platform
// or the underlying stream isn't backed by a real net.Conn.
func (c *Client) Status() (info diag.TCPInfo, outstanding int, ok bool) {
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

// Connect dials the server, performs the STARTDT handshake, and starts
// the connection's worker goroutines.
func (c *Client) Connect(ctx context.Context) error {
	stream, err := c.dialer.Dial(ctx, c.opt.server.Host)
	if err != nil {
		return fmt.Errorf("client104: dial: %w", err)
	}
	c.stream = stream
	c.win.Reset()
	c.startdtConfirmed = make(chan struct{})
	c.stopdtConfirmed = make(chan struct{})
	atomic.StoreInt32(&c.closed, 0)
	c.corrID = event.NewCorrID()
	c.lg = c.lg.WithField("corr_id", c.corrID)

	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindOpened, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "connection established"})

	cctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.ctx = cctx

	go c.writeLoop(cctx)
	go c.readLoop(cctx)
	go c.timerLoop(cctx)

	c.sendU(apci.UStartDTAct)
	select {
	case <-c.startdtConfirmed:
	case <-time.After(c.opt.connectTimeout):
		c.teardown()
		return ErrStartDTTimeout
	}

	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindActivated, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "STARTDT confirmed"})

	if c.opt.metricsSet != nil {
		c.opt.metricsSet.ConnectionOpened()
	}
	if c.opt.onConnect != nil {
		c.opt.onConnect(c)
	}
	return nil
}

// Close performs the STOPDT handshake, tears the connection down, and
// permanently stops any in-flight or future reconnect loop: Close is
// the caller's explicit request to disconnect, never to be undone by
// AutoReconnectRule.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return ErrAlreadyClosed
	}
	c.closeOnce.Do(func() { close(c.stopReconnect) })

	c.sendU(apci.UStopDTAct)
	select {
	case <-c.stopdtConfirmed:
		c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindDeactivated, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "STOPDT confirmed"})
	case <-time.After(c.opt.connectTimeout):
		c.lg.Warn("STOPDT_CON not received before timeout, closing anyway")
	}
	c.teardown()
	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindClosed, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "closed by caller"})
	if c.opt.onDisconnect != nil {
		c.opt.onDisconnect(c)
	}
	return nil
}

// handleDisconnect is the single entry point for every non-caller-
// initiated teardown (transport read error, t1/TESTFR timeout, an
// invalid peer acknowledgement). It races with Close on the same closed
// flag so whichever wins performs teardown, the KindClosed event, and
// onDisconnect exactly once, then - unless Close already stopped
// reconnecting - starts the reconnect loop per spec.md §4.6 Scenario 4.
func (c *Client) handleDisconnect(reason string, cause error) {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.teardown()
	c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindClosed, Peer: c.peerAddr(), CorrID: c.corrID, Reason: reason, Err: cause})
	if c.opt.onDisconnect != nil {
		c.opt.onDisconnect(c)
	}

	rule := c.opt.autoReconnectRule
	if rule != nil && rule.Retries > 0 {
		go c.reconnectLoop(rule)
	}
}

// reconnectLoop implements spec.md §4.6 Scenario 4: sleep
// reconnectDelay, emit reconnecting(attempt n/N), retry the connection
// up to maxRetries times, then emit failed and exit.
func (c *Client) reconnectLoop(rule *AutoReconnectRule) {
	for attempt := 1; attempt <= rule.Retries; attempt++ {
		select {
		case <-c.stopReconnect:
			return
		case <-time.After(rule.Interval):
		}

		c.opt.eventSink.Notify(event.Event{
			Type: event.TypeControl, Kind: event.KindReconnecting,
			Peer: c.peerAddr(), CorrID: c.corrID,
			Reason:      fmt.Sprintf("reconnect attempt %d/%d", attempt, rule.Retries),
			Attempt:     attempt,
			MaxAttempts: rule.Retries,
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.opt.connectTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		c.lg.Warnf("reconnect attempt %d/%d failed: %v", attempt, rule.Retries, err)

		select {
		case <-c.stopReconnect:
			return
		default:
		}
	}

	c.opt.eventSink.Notify(event.Event{
		Type: event.TypeControl, Kind: event.KindFailed,
		Peer: c.peerAddr(), CorrID: c.corrID,
		Reason: fmt.Sprintf("exhausted %d reconnect attempts", rule.Retries),
	})
}

func (c *Client) teardown() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		_ = c.stream.Close()
	}
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.ConnectionClosed()
	}
}

// IsConnected reports whether the underlying stream is open and closed
// has not been requested.
func (c *Client) IsConnected() bool {
	return c.stream != nil && c.stream.IsOpen() && atomic.LoadInt32(&c.closed) == 0
}

// Send encodes a and transmits it as an I-frame, blocking only long
// enough to assign a sequence number; it returns ErrWindowFull if k
// unacknowledged frames are already outstanding.
func (c *Client) Send(a *asdu.ASDU) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	body, err := a.MarshalBinary()
	if err != nil {
		return fmt.Errorf("client104: marshal asdu: %w", err)
	}

	c.mu.Lock()
	if !c.win.CanSend() {
		c.mu.Unlock()
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.WindowFull()
		}
		c.opt.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindBusy, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "send window full"})
		return apci.ErrWindowFull
	}
	seq, err := c.win.Send(time.Now())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	recvSN := c.win.RecvSN()
	c.win.AckReceived()
	outstanding := c.win.OutstandingCount()
	c.mu.Unlock()

	if c.opt.metricsSet != nil {
		c.opt.metricsSet.SetOutstanding(outstanding)
	}

	frame, err := apci.EncodeI(seq, recvSN, body)
	if err != nil {
		return err
	}
	c.lg.Debugf("send i frame: seq=%d ack=%d [% X]", seq, recvSN, body)
	c.sendRaw <- frame
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.FrameSent("I")
	}
	return nil
}

// SendCommands validates cmds, groups them by (TypeID, CommonAddr) per
// spec.md §9, and sends one I-frame per resulting ASDU.
func (c *Client) SendCommands(cmds []asdu.Command) error {
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

func (c *Client) sendU(fn apci.UFunction) {
	c.lg.Debugf("send u frame: %s", fn)
	c.sendRaw <- apci.EncodeU(fn)
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.FrameSent("U")
	}
}

func (c *Client) sendS() {
	c.mu.Lock()
	recvSN := c.win.RecvSN()
	c.win.AckReceived()
	c.mu.Unlock()
	c.lg.Debugf("send s frame: ack=%d", recvSN)
	c.sendRaw <- apci.EncodeS(recvSN)
	if c.opt.metricsSet != nil {
		c.opt.metricsSet.FrameSent("S")
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	c.lg.Debug("start write loop")
	defer c.lg.Debug("stop write loop")
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.sendRaw:
			if _, err := c.stream.Write(data); err != nil {
				c.lg.Errorf("write to socket: %v", err)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.lg.Debug("start read loop")
	defer c.lg.Debug("stop read loop")

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
			c.lg.Errorf("read from socket: %v", err)
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "transport read error", Err: err})
			c.handleDisconnect("transport read error", err)
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			apdu, consumed, perr := apci.Parse(buf)
			if perr != nil {
				if apci.IsIncomplete(perr) {
					break
				}
				c.lg.Warnf("discarding %d bytes: %v", consumed, perr)
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

// notifyData emits a Type == TypeData event carrying every information
// object decoded from a, alongside the existing ASDUHandler delivery.
func (c *Client) notifyData(a *asdu.ASDU) {
	objs, err := a.DecodeObjects()
	if err != nil {
		return
	}
	records := make([]event.Record, len(objs))
	for i, o := range objs {
		records[i] = event.Record{TypeID: a.Type, IOA: o.Address, Body: o.Body}
	}
	c.opt.eventSink.Notify(event.Event{Type: event.TypeData, Peer: c.peerAddr(), CorrID: c.corrID, Records: records})
}

func (c *Client) handleAPDU(apdu apci.APDU) {
	switch apdu.Kind {
	case apci.KindI:
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.FrameReceived("I")
		}
		c.mu.Lock()
		ackErr := c.win.Ack(apdu.RecvSN)
		needsAck := c.win.Receive(apdu.SendSN, time.Now())
		c.mu.Unlock()
		if ackErr != nil {
			c.lg.Errorf("invalid peer acknowledgement: %v", ackErr)
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "peer acknowledged a sequence number we never sent", Err: ackErr})
			c.handleDisconnect("invalid peer acknowledgement", ackErr)
			return
		}

		a, err := asdu.ParseASDU(&c.opt.asduParams, apdu.ASDU)
		if err != nil {
			c.lg.Errorf("parse asdu: %v", err)
			if c.opt.metricsSet != nil {
				c.opt.metricsSet.FrameDiscarded("asdu_parse_error")
			}
			return
		}
		if needsAck {
			c.sendS()
		}
		c.notifyData(a)
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
			c.lg.Errorf("invalid peer acknowledgement: %v", ackErr)
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "peer acknowledged a sequence number we never sent", Err: ackErr})
			c.handleDisconnect("invalid peer acknowledgement", ackErr)
			return
		}

	case apci.KindU:
		if c.opt.metricsSet != nil {
			c.opt.metricsSet.FrameReceived("U")
		}
		switch apdu.UFunc {
		case apci.UStartDTCon:
			c.lg.Debug("receive u frame: STARTDT_CON")
			select {
			case <-c.startdtConfirmed:
			default:
				close(c.startdtConfirmed)
			}
		case apci.UStopDTCon:
			c.lg.Debug("receive u frame: STOPDT_CON")
			select {
			case <-c.stopdtConfirmed:
			default:
				close(c.stopdtConfirmed)
			}
		case apci.UTestFRAct:
			c.lg.Debug("receive u frame: TESTFR_ACT")
			c.sendU(apci.UTestFRCon)
		case apci.UTestFRCon:
			c.lg.Debug("receive u frame: TESTFR_CON")
			c.mu.Lock()
			c.testfrOutstanding = false
			c.mu.Unlock()
		case apci.UStartDTAct, apci.UStopDTAct:
			// A controlling station never receives the ACT half; ignore.
		}
	}
}

// timerLoop drives t1 (ack timeout), t2 (forced S-ack) and t3 (idle
// connection test), polling every T2/4 (500ms if that is not positive)
// so expiry is detected promptly without a timer per frame.
func (c *Client) timerLoop(ctx context.Context) {
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

func (c *Client) checkTimers(now time.Time) {
	c.mu.Lock()
	oldest, hasOutstanding := c.win.OldestUnacked()
	unacked := c.win.UnackedReceived()
	lastRecv := c.win.LastRecvAt()
	idle := c.win.IdleSince(now)
	testfrOutstanding := c.testfrOutstanding
	testfrSentAt := c.testfrSentAt
	c.mu.Unlock()

	if hasOutstanding && now.Sub(oldest) > c.opt.apciParams.T1 {
		c.lg.Error("t1 expired waiting for acknowledgement, closing connection")
		c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "t1 expired waiting for acknowledgement", Err: ErrT1Timeout})
		c.handleDisconnect("t1 timeout", ErrT1Timeout)
		return
	}

	if unacked > 0 && !lastRecv.IsZero() && now.Sub(lastRecv) > c.opt.apciParams.T2 {
		c.sendS()
	}

	if testfrOutstanding {
		if now.Sub(testfrSentAt) > c.opt.apciParams.T1 {
			c.lg.Error("TESTFR_CON not received, closing connection")
			c.opt.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: c.peerAddr(), CorrID: c.corrID, Reason: "TESTFR_CON not received before t1 expiry", Err: ErrTestFRTimeout})
			c.handleDisconnect("testfr timeout", ErrTestFRTimeout)
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
