// Package master101 implements the CS101 unbalanced-mode primary
// station (secondaries marked Balanced are served in balanced mode
// instead): it polls its secondaries, including any added later with
// AddSlave, in round-robin,
// interleaving class-2 (routine data) polls with class-1 (urgent
// data / ACD-triggered) polls, and drives each secondary's FCB and
// retry state through link101.SlaveContext. Grounded on the teacher's
// goroutine-per-direction worker shape (client.go) generalized to a
// polling scheduler, with framing handed off to link101 and the
// confirmed-service retry/timeout algorithm grounded on
// rob-gra-go-iecp5/cs101's primary loop.
package master101

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/event"
	"github.com/gridstream/go-iec60870/link101"
)

// ASDUHandler receives every ASDU delivered by any secondary.
type ASDUHandler func(secondary uint16, a *asdu.ASDU)

// Port is the serial (or serial-like) byte channel the master polls
// over; framing is half-duplex so Port need not support concurrent
// read/write the way transport.ByteStream does.
type Port interface {
	Read(buf []byte, deadline time.Time) (int, error)
	Write(buf []byte) (int, error)
}

// Secondary configures one polled station. Balanced stations skip the
// unbalanced negotiation/polling cycle entirely and are driven instead
// through a link101.BalancedSession (see pollBalanced).
type Secondary struct {
	LinkAddress  uint16
	CommonAddr   asdu.CommonAddr
	PollInterval time.Duration // how often to issue a class-2 request when idle
	Balanced     bool
}

// SlaveStatus reports what a Master currently knows about one
// secondary's link-layer health, for GetStatus.
type SlaveStatus struct {
	LinkAddress uint16
	State       link101.LinkState
	Retries     int
}

// Master polls a list of secondaries, extendable with AddSlave, over one
// shared Port.
type Master struct {
	port   Port
	params link101.Params
	asduP  asdu.Params

	mu          sync.Mutex
	secondaries []*Secondary
	contexts    map[uint16]*link101.SlaveContext
	balanced    map[uint16]*link101.BalancedSession

	// ioMu serializes every read/write against the shared half-duplex
	// Port: Run's polling loop and SendCommands/PollSlave called from
	// another goroutine must never interleave their frames.
	ioMu sync.Mutex

	// outbound queues command ASDUs awaiting the next poll of the given
	// link address (unbalanced mode has no independent primary-initiated
	// exchange: a command can only ride the next confirmed poll).
	outbound map[uint16][][]byte

	handler   ASDUHandler
	eventSink event.Sink
	lg        *logrus.Entry
}

// New constructs a Master for the given port and secondary list.
func New(port Port, params link101.Params, asduP asdu.Params, secondaries []Secondary, handler ASDUHandler, lg *logrus.Logger) *Master {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	m := &Master{
		port:      port,
		params:    params,
		asduP:     asduP,
		handler:   handler,
		eventSink: event.Discard,
		lg:        logrus.NewEntry(lg),
		contexts:  make(map[uint16]*link101.SlaveContext),
		balanced:  make(map[uint16]*link101.BalancedSession),
		outbound:  make(map[uint16][][]byte),
	}
	for i := range secondaries {
		s := secondaries[i]
		m.secondaries = append(m.secondaries, &s)
		if s.Balanced {
			m.balanced[s.LinkAddress] = link101.NewBalancedSession(port, params, s.LinkAddress)
		} else {
			m.contexts[s.LinkAddress] = link101.NewSlaveContext(s.LinkAddress)
		}
	}
	return m
}

// SetEventSink overrides the default no-op event sink.
func (m *Master) SetEventSink(sink event.Sink) {
	if sink != nil {
		m.eventSink = sink
	}
}

// AddSlave registers an additional secondary to poll, safe to call
// while Run is already executing.
func (m *Master) AddSlave(s Secondary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secondaries = append(m.secondaries, &s)
	if s.Balanced {
		m.balanced[s.LinkAddress] = link101.NewBalancedSession(m.port, m.params, s.LinkAddress)
	} else {
		m.contexts[s.LinkAddress] = link101.NewSlaveContext(s.LinkAddress)
	}
}

// GetStatus reports the link-layer state known for linkAddress.
func (m *Master) GetStatus(linkAddress uint16) (SlaveStatus, error) {
	m.mu.Lock()
	sc, ok := m.contexts[linkAddress]
	_, isBalanced := m.balanced[linkAddress]
	m.mu.Unlock()
	if isBalanced {
		return SlaveStatus{LinkAddress: linkAddress, State: link101.StateLinkAvailable}, nil
	}
	if !ok {
		return SlaveStatus{}, fmt.Errorf("master101: unknown secondary %d", linkAddress)
	}
	return SlaveStatus{LinkAddress: linkAddress, State: sc.State, Retries: sc.Retries}, nil
}

// PollSlave runs one immediate poll cycle (link-status negotiation,
// class-1, or class-2, whichever is next due) against linkAddress,
// outside of Run's round-robin scheduling.
func (m *Master) PollSlave(linkAddress uint16) error {
	s, err := m.findSecondary(linkAddress)
	if err != nil {
		return err
	}
	m.ioMu.Lock()
	defer m.ioMu.Unlock()
	if s.Balanced {
		m.pollBalanced(s)
		return nil
	}
	m.pollOne(s)
	return nil
}

// Interrogate queues a station-interrogation command ASDU for
// linkAddress, delivered on the next poll (unbalanced) or immediately
// (balanced).
func (m *Master) Interrogate(linkAddress uint16) error {
	s, err := m.findSecondary(linkAddress)
	if err != nil {
		return err
	}
	a := asdu.NewASDU(&m.asduP, asdu.Identifier{
		Type:       asdu.CIcNa1,
		Cause:      asdu.CauseOfTransmission{Cause: asdu.CotActivation},
		CommonAddr: s.CommonAddr,
	})
	if err := a.AppendObjects(asdu.InfoObj{Address: 0, Body: []byte{byte(asdu.QOIStation)}}); err != nil {
		return err
	}
	return m.sendUserData(s, a)
}

// SendCommands validates cmds, groups them by (TypeID, CommonAddr) per
// spec.md §9, and queues one confirmed exchange per resulting ASDU for
// linkAddress.
func (m *Master) SendCommands(linkAddress uint16, cmds []asdu.Command) error {
	s, err := m.findSecondary(linkAddress)
	if err != nil {
		return err
	}
	asdus, err := asdu.BuildCommands(&m.asduP, cmds)
	if err != nil {
		return err
	}
	for _, a := range asdus {
		if err := m.sendUserData(s, a); err != nil {
			return err
		}
	}
	return nil
}

func (m *Master) findSecondary(linkAddress uint16) (*Secondary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.secondaries {
		if s.LinkAddress == linkAddress {
			return s, nil
		}
	}
	return nil, fmt.Errorf("master101: unknown secondary %d", linkAddress)
}

// sendUserData either hands a over to the secondary's balanced session
// directly, or queues it for delivery on the next unbalanced poll.
func (m *Master) sendUserData(s *Secondary, a *asdu.ASDU) error {
	body, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	if s.Balanced {
		m.ioMu.Lock()
		defer m.ioMu.Unlock()
		bs := m.balancedSession(s.LinkAddress)
		return bs.SendConfirmed(body)
	}
	m.mu.Lock()
	m.outbound[s.LinkAddress] = append(m.outbound[s.LinkAddress], body)
	m.mu.Unlock()
	return nil
}

func (m *Master) dequeueOutbound(linkAddress uint16) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.outbound[linkAddress]
	if len(q) == 0 {
		return nil, false
	}
	m.outbound[linkAddress] = q[1:]
	return q[0], true
}

func (m *Master) balancedSession(linkAddress uint16) *link101.BalancedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanced[linkAddress]
}

// Run executes the polling cycle until ctx is cancelled: for each
// secondary in turn, perform link-status negotiation if needed, then
// a class-1 poll if ACD was last signalled, else a class-2 poll.
// Balanced secondaries are serviced via pollBalanced instead.
func (m *Master) Run(ctx context.Context) {
	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.mu.Lock()
		n := len(m.secondaries)
		if n == 0 {
			m.mu.Unlock()
			return
		}
		s := m.secondaries[idx%n]
		idx = (idx + 1) % n
		m.mu.Unlock()

		m.ioMu.Lock()
		if s.Balanced {
			m.pollBalanced(s)
		} else {
			m.pollOne(s)
		}
		m.ioMu.Unlock()
	}
}

// pollBalanced drains any queued outbound command via the secondary's
// BalancedSession, then opportunistically listens for a
// peer-originated confirmed request within the link's ack timeout
// (balanced mode has no polling direction: either side may speak).
func (m *Master) pollBalanced(s *Secondary) {
	bs := m.balanced[s.LinkAddress]
	if body, ok := m.dequeueOutbound(s.LinkAddress); ok {
		if err := bs.SendConfirmed(body); err != nil {
			m.lg.Warnf("balanced send to %d failed: %v", s.LinkAddress, err)
		}
	}
	data, ok := bs.ReceiveConfirmed(time.Now().Add(m.params.TimeoutForAck))
	if !ok {
		return
	}
	a, err := asdu.ParseASDU(&m.asduP, data)
	if err != nil {
		m.lg.Warnf("parse asdu from balanced secondary %d: %v", s.LinkAddress, err)
		return
	}
	if m.handler != nil {
		m.handler(s.LinkAddress, a)
	}
}

func (m *Master) pollOne(s *Secondary) {
	sc := m.contexts[s.LinkAddress]

	switch sc.State {
	case link101.StateIdle, link101.StateError, link101.StateRequestingLinkStatus:
		// requestLinkStatus waits for its reply synchronously, so a
		// secondary still in StateRequestingLinkStatus had its last
		// request fail below the retry limit; ask again.
		m.requestLinkStatus(sc)
		return
	}

	if body, ok := m.dequeueOutbound(s.LinkAddress); ok {
		m.sendClass1Body(s, sc, body)
		return
	}

	if sc.NextPollIsClass1() {
		m.pollClass(s, sc, link101.FuncRequestUserData1)
		return
	}
	m.pollClass(s, sc, link101.FuncRequestUserData2)
}

// sendClass1Body transmits a queued command ASDU as a confirmed
// USER_DATA_CONFIRMED frame, the only primary-initiated exchange FT 1.2
// unbalanced mode offers.
func (m *Master) sendClass1Body(s *Secondary, sc *link101.SlaveContext, body []byte) {
	fcb := sc.NextConfirmedFCB()
	for attempt := 0; attempt <= m.params.MaxRetries; attempt++ {
		if attempt > 0 {
			fcb = sc.LastFCB()
		}
		control := byte(link101.FuncUserDataConfirmed) | link101.PRM | link101.FCV
		if fcb {
			control |= link101.FCB
		}
		frame := link101.EncodeVariable(control, sc.LinkAddress, m.params.AddressLength, body)
		if _, err := m.port.Write(frame); err != nil {
			continue
		}
		resp, ok := m.awaitResponse()
		if !ok {
			if exceeded := sc.RecordFailure(m.params.MaxRetries); exceeded {
				sc.State = link101.StateError
				m.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: addrString(sc.LinkAddress), Reason: "link state error: retries exhausted"})
			}
			continue
		}
		if resp.Kind == link101.TypeSingleChar || resp.FuncCode() == link101.FuncAck {
			sc.RecordSuccess()
			return
		}
	}
}

func (m *Master) requestLinkStatus(sc *link101.SlaveContext) {
	sc.State = link101.StateRequestingLinkStatus
	control := byte(link101.FuncRequestLinkStatus) | link101.PRM
	frame := link101.EncodeFixed(control, sc.LinkAddress, m.params.AddressLength)
	if _, err := m.port.Write(frame); err != nil {
		m.recordFailure(sc)
		return
	}

	resp, ok := m.awaitResponse()
	if !ok || resp.FuncCode() != link101.FuncRespLinkStatus {
		m.recordFailure(sc)
		return
	}
	sc.State = link101.StateLinkAvailable
	sc.RecordSuccess()
}

func (m *Master) pollClass(s *Secondary, sc *link101.SlaveContext, funcCode byte) {
	fcb := sc.NextConfirmedFCB()
	control := byte(funcCode) | link101.PRM | link101.FCV
	if fcb {
		control |= link101.FCB
	}
	frame := link101.EncodeFixed(control, sc.LinkAddress, m.params.AddressLength)

	for attempt := 0; attempt <= m.params.MaxRetries; attempt++ {
		if attempt > 0 {
			// Retransmission reuses the previous FCB rather than toggling.
			retryControl := byte(funcCode) | link101.PRM | link101.FCV
			if sc.LastFCB() {
				retryControl |= link101.FCB
			}
			frame = link101.EncodeFixed(retryControl, sc.LinkAddress, m.params.AddressLength)
		}
		if _, err := m.port.Write(frame); err != nil {
			continue
		}

		resp, ok := m.awaitResponse()
		if !ok {
			if exceeded := sc.RecordFailure(m.params.MaxRetries); exceeded {
				sc.State = link101.StateError
				m.eventSink.Notify(event.Event{Type: event.TypeError, Kind: event.KindError, Peer: addrString(sc.LinkAddress), Reason: "link state error: retries exhausted"})
			}
			continue
		}

		sc.RecordSuccess()
		m.handleResponse(s, sc, resp)
		return
	}
}

func (m *Master) handleResponse(s *Secondary, sc *link101.SlaveContext, resp link101.Frame) {
	if resp.Control&link101.ACD != 0 {
		sc.RequestAccessDemand()
	}
	switch resp.FuncCode() {
	case link101.FuncRespUserData:
		a, err := asdu.ParseASDU(&m.asduP, resp.Data)
		if err != nil {
			m.lg.Warnf("parse asdu from secondary %d: %v", sc.LinkAddress, err)
			return
		}
		if s.CommonAddr != 0 && a.Identifier.CommonAddr != s.CommonAddr {
			m.lg.Warnf("secondary %d replied with common address %d, expected %d", sc.LinkAddress, a.Identifier.CommonAddr, s.CommonAddr)
		}
		if m.handler != nil {
			m.handler(sc.LinkAddress, a)
		}
	case link101.FuncRespNoData:
		// Nothing pending; normal outcome of an empty poll.
	}
}

// awaitResponse reads one frame within the link's timeout-for-ack
// window. It returns ok=false on timeout or parse failure, both
// treated as a failed confirmed exchange.
func (m *Master) awaitResponse() (link101.Frame, bool) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	deadline := time.Now().Add(m.params.TimeoutForAck)

	for time.Now().Before(deadline) {
		n, err := m.port.Read(chunk, deadline)
		if err != nil {
			return link101.Frame{}, false
		}
		buf = append(buf, chunk[:n]...)

		frame, _, perr := link101.ParseFrame(buf, m.params.AddressLength)
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

func (m *Master) recordFailure(sc *link101.SlaveContext) {
	if exceeded := sc.RecordFailure(m.params.MaxRetries); exceeded {
		sc.State = link101.StateError
	}
}

func addrString(a uint16) string {
	return "link:" + strconv.Itoa(int(a))
}
