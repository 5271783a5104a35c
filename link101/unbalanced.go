package link101

// LinkState is a secondary's negotiation state as tracked by the
// primary in unbalanced mode (spec.md §4.3).
type LinkState int

const (
	StateIdle LinkState = iota
	StateRequestingLinkStatus
	StateLinkAvailable
	StatePollingClass1
	StatePollingClass2
	StateError
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingLinkStatus:
		return "requesting-link-status"
	case StateLinkAvailable:
		return "link-available"
	case StatePollingClass1:
		return "polling-class1"
	case StatePollingClass2:
		return "polling-class2"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SlaveContext (the data model's SlaveContext entity) tracks one
// secondary's unbalanced link-layer state as seen by the primary:
// negotiation state, FCB, pending-class-2-upgrade (ACD), and the retry
// counter that drives LL_STATE_ERROR.
type SlaveContext struct {
	LinkAddress uint16
	State       LinkState
	FCB         bool
	Retries     int
	// classUpgrade is set when the secondary most recently signalled
	// ACD (access demand): the next poll should request class-1 data
	// ahead of routine class-2 polling.
	classUpgrade bool
}

// NewSlaveContext creates a context in the Idle state; the primary must
// request link status before any confirmed exchange.
func NewSlaveContext(linkAddress uint16) *SlaveContext {
	return &SlaveContext{LinkAddress: linkAddress, State: StateIdle}
}

// NextConfirmedFCB returns the FCB to use for the next *new* confirmed
// request and flips it for next time. Retransmissions must reuse
// LastFCB instead (spec.md invariant: "retransmits reuse the prior FCB
// without toggling").
func (s *SlaveContext) NextConfirmedFCB() bool {
	fcb := s.FCB
	s.FCB = !s.FCB
	return fcb
}

// LastFCB returns the FCB used by the most recent confirmed request,
// for reuse on retransmission.
func (s *SlaveContext) LastFCB() bool {
	return !s.FCB
}

// RequestAccessDemand records that the secondary signalled ACD (class-1
// data pending) in its last response.
func (s *SlaveContext) RequestAccessDemand() {
	s.classUpgrade = true
}

// NextPollIsClass1 reports and clears the pending class-1 upgrade.
func (s *SlaveContext) NextPollIsClass1() bool {
	up := s.classUpgrade
	s.classUpgrade = false
	return up
}

// RecordSuccess resets the retry counter after a successful exchange.
func (s *SlaveContext) RecordSuccess() {
	s.Retries = 0
}

// RecordFailure increments the retry counter and reports whether the
// configured maximum has now been exceeded, in which case the caller
// must transition to StateError and raise LL_STATE_ERROR.
func (s *SlaveContext) RecordFailure(maxRetries int) (exceeded bool) {
	s.Retries++
	return s.Retries > maxRetries
}
