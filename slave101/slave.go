// Package slave101 implements the CS101 unbalanced-mode secondary
// station (and, through NewBalanced, a balanced-mode one): it answers a primary's polls over a shared half-duplex
// port, queuing class-1 (urgent) and class-2 (routine) ASDUs
// separately and signalling ACD when class-1 data is pending. Framing
// is handed off to link101; the request/response shape is grounded on
// the teacher's reader/writer goroutine split generalized to a
// synchronous poll-response loop, since FT 1.2 unbalanced mode is
// inherently half-duplex.
package slave101

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/event"
	"github.com/gridstream/go-iec60870/link101"
)

// Port is the shared half-duplex byte channel.
type Port interface {
	Read(buf []byte, deadline time.Time) (int, error)
	Write(buf []byte) (int, error)
}

// InterrogationHandler is called each time class-1 data is dequeued (on
// every class-1 poll, and on every balanced-mode send); the ASDUs it
// returns are enqueued as class-1 data before the queue is read.
type InterrogationHandler func() []*asdu.ASDU

// CommandHandler receives a command ASDU delivered by the primary over
// a confirmed USER_DATA exchange.
type CommandHandler func(a *asdu.ASDU)

// Status reports what this Slave currently knows about its own
// link-layer health, for GetStatus.
type Status struct {
	LinkAddress  uint16
	Running      bool
	Class1Queued int
	Class2Queued int
}

// Slave answers one link address's polls on Port.
type Slave struct {
	port        Port
	params      link101.Params
	asduP       asdu.Params
	linkAddress uint16

	mu sync.Mutex

	fcbSeen  bool
	fcbValid bool // false until the first confirmed frame is received

	class1 [][]byte
	class2 [][]byte

	balanced *link101.BalancedSession

	onInterrogate InterrogationHandler
	onCommand     CommandHandler
	eventSink     event.Sink
	lg            *logrus.Entry

	running bool
	cancel  context.CancelFunc
}

// New constructs a Slave for linkAddress.
func New(port Port, params link101.Params, asduP asdu.Params, linkAddress uint16, lg *logrus.Logger) *Slave {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Slave{
		port:        port,
		params:      params,
		asduP:       asduP,
		linkAddress: linkAddress,
		eventSink:   event.Discard,
		lg:          logrus.NewEntry(lg),
	}
}

// NewBalanced constructs a Slave that answers balanced-mode confirmed
// requests (either side may originate an exchange) instead of
// unbalanced polling; ServeBalanced must be used in place of ServeOne.
func NewBalanced(port link101.Port, params link101.Params, asduP asdu.Params, linkAddress uint16, lg *logrus.Logger) *Slave {
	s := New(port, params, asduP, linkAddress, lg)
	s.balanced = link101.NewBalancedSession(port, params, linkAddress)
	return s
}

// SetInterrogationHandler installs the callback invoked on a class-1
// poll when the application wants to inject fresh data on demand
// rather than only draining a pre-queued class1 buffer.
func (s *Slave) SetInterrogationHandler(h InterrogationHandler) {
	s.onInterrogate = h
}

// SetCommandHandler installs the callback invoked when the primary
// delivers a command ASDU over a confirmed USER_DATA exchange.
func (s *Slave) SetCommandHandler(h CommandHandler) {
	s.onCommand = h
}

// SetEventSink overrides the default no-op event sink.
func (s *Slave) SetEventSink(sink event.Sink) {
	if sink != nil {
		s.eventSink = sink
	}
}

// Enqueue appends an encoded ASDU to the class-1 (urgent, high: true)
// or class-2 (routine) outbound queue.
func (s *Slave) Enqueue(a *asdu.ASDU, highPriority bool) error {
	body, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if highPriority {
		s.class1 = append(s.class1, body)
	} else {
		s.class2 = append(s.class2, body)
	}
	return nil
}

// SendCommands validates cmds, groups them by (TypeID, CommonAddr) per
// spec.md §9, and enqueues one ASDU per resulting group (class-1 when
// highPriority, else class-2) for delivery on the next matching poll.
func (s *Slave) SendCommands(cmds []asdu.Command, highPriority bool) error {
	asdus, err := asdu.BuildCommands(&s.asduP, cmds)
	if err != nil {
		return err
	}
	for _, a := range asdus {
		if err := s.Enqueue(a, highPriority); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus reports this slave's current queue depths and run state.
func (s *Slave) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		LinkAddress:  s.linkAddress,
		Running:      s.running,
		Class1Queued: len(s.class1),
		Class2Queued: len(s.class2),
	}
}

// Start runs ServeOne (ServeBalanced for a Slave built with
// NewBalanced) in a loop on its own goroutine until ctx is
// cancelled or Stop is called, mirroring the teacher's reader-goroutine
// lifecycle for a role engine that otherwise only offers a synchronous
// single-step API (ServeOne/ServeBalanced).
func (s *Slave) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	cctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindOpened, Peer: addrString(s.linkAddress)})
	go s.run(cctx)
	return nil
}

func (s *Slave) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.eventSink.Notify(event.Event{Type: event.TypeControl, Kind: event.KindClosed, Peer: addrString(s.linkAddress)})
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		deadline := time.Now().Add(s.params.TimeoutLinkState)
		if s.balanced != nil {
			s.ServeBalanced(deadline)
		} else {
			s.ServeOne(deadline)
		}
	}
}

// Stop cancels the Start goroutine, if running.
func (s *Slave) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ServeOne reads one frame from the port and answers it, if it
// addresses this slave. It returns ok=false when nothing usable was
// read (timeout, checksum mismatch, or addressed elsewhere).
func (s *Slave) ServeOne(deadline time.Time) (ok bool) {
	frame, ok := s.readFrame(deadline)
	if !ok {
		return false
	}
	if !frame.PRM() {
		return false // only primary-originated frames are polls
	}
	if frame.Kind != link101.TypeSingleChar && frame.Address != s.linkAddress {
		return false
	}

	switch frame.FuncCode() {
	case link101.FuncResetRemoteLink, link101.FuncResetUserProcess:
		s.fcbValid = false
		s.ack()
	case link101.FuncTestLink:
		s.confirmedReply(frame, func() {})
	case link101.FuncUserDataConfirmed:
		s.confirmedReply(frame, func() {
			s.deliverCommand(frame.Data)
		})
	case link101.FuncRequestLinkStatus:
		s.respondLinkStatus()
	case link101.FuncRequestUserData1:
		s.respondData(s.dequeueClass1())
	case link101.FuncRequestUserData2:
		s.respondData(s.dequeueClass2())
	default:
		return false
	}
	return true
}

func (s *Slave) readFrame(deadline time.Time) (link101.Frame, bool) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := s.port.Read(chunk, deadline)
		if err != nil {
			return link101.Frame{}, false
		}
		buf = append(buf, chunk[:n]...)
		frame, _, perr := link101.ParseFrame(buf, s.params.AddressLength)
		if perr != nil {
			if link101.IsIncomplete(perr) {
				continue
			}
			return link101.Frame{}, false
		}
		return frame, true
	}
	return link101.Frame{}, false
}

// confirmedReply validates FCB continuity before running apply and
// acknowledging: a repeated FCB means the primary is retransmitting
// after losing our prior ACK, so apply must not run twice.
func (s *Slave) confirmedReply(frame link101.Frame, apply func()) {
	if !s.fcbValid || frame.FCB() != s.fcbSeen {
		apply()
		s.fcbSeen = frame.FCB()
		s.fcbValid = true
	}
	s.ack()
}

func (s *Slave) ack() {
	if s.params.UseSingleCharACK {
		_, _ = s.port.Write(link101.EncodeSingleCharACK())
		return
	}
	control := byte(link101.FuncAck)
	_, _ = s.port.Write(link101.EncodeFixed(control, s.linkAddress, s.params.AddressLength))
}

func (s *Slave) respondLinkStatus() {
	control := byte(link101.FuncRespLinkStatus)
	if s.hasClass1() {
		control |= link101.ACD
	}
	_, _ = s.port.Write(link101.EncodeFixed(control, s.linkAddress, s.params.AddressLength))
}

func (s *Slave) respondData(body []byte) {
	if body == nil {
		control := byte(link101.FuncRespNoData)
		if s.hasClass1() {
			control |= link101.ACD
		}
		_, _ = s.port.Write(link101.EncodeFixed(control, s.linkAddress, s.params.AddressLength))
		return
	}
	control := byte(link101.FuncRespUserData)
	if s.hasClass1() {
		control |= link101.ACD
	}
	_, _ = s.port.Write(link101.EncodeVariable(control, s.linkAddress, s.params.AddressLength, body))
}

// deliverCommand decodes data as an ASDU and hands it to the installed
// CommandHandler, if any. Malformed command payloads are logged and
// otherwise ignored: the confirmed exchange has already been
// acknowledged by the time this runs.
func (s *Slave) deliverCommand(data []byte) {
	if s.onCommand == nil {
		return
	}
	a, err := asdu.ParseASDU(&s.asduP, data)
	if err != nil {
		s.lg.Warnf("parse command asdu from primary: %v", err)
		return
	}
	s.onCommand(a)
}

func (s *Slave) dequeueClass1() []byte {
	if s.onInterrogate != nil {
		for _, a := range s.onInterrogate() {
			_ = s.Enqueue(a, true)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.class1) == 0 {
		return nil
	}
	body := s.class1[0]
	s.class1 = s.class1[1:]
	return body
}

func (s *Slave) dequeueClass2() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.class2) == 0 {
		return nil
	}
	body := s.class2[0]
	s.class2 = s.class2[1:]
	return body
}

// dequeueAny drains class-1 ahead of class-2, for balanced mode where
// there is no separate class-1/class-2 polling function code: any
// queued data is simply the next thing sent.
func (s *Slave) dequeueAny() ([]byte, bool) {
	if body := s.dequeueClass1(); body != nil {
		return body, true
	}
	if body := s.dequeueClass2(); body != nil {
		return body, true
	}
	return nil, false
}

func (s *Slave) hasClass1() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.class1) > 0
}

func addrString(a uint16) string {
	return "link:" + strconv.Itoa(int(a))
}

// ServeBalanced drains any queued outbound data via the balanced
// session, then opportunistically answers a primary-originated
// confirmed request within deadline. It returns ok=true when a queued
// ASDU was acknowledged by the primary or a request was received. Must
// only be called on a Slave constructed with NewBalanced.
func (s *Slave) ServeBalanced(deadline time.Time) (ok bool) {
	sent := false
	if body, has := s.dequeueAny(); has {
		if err := s.balanced.SendConfirmed(body); err != nil {
			s.lg.Warnf("balanced send failed: %v", err)
		} else {
			sent = true
		}
	}
	data, got := s.balanced.ReceiveConfirmed(deadline)
	if !got {
		return sent
	}
	s.deliverCommand(data)
	return true
}
