package client104

import "errors"

// Sentinel errors, in the small typed-error style of the teacher's
// errors.go (errSingleCmdTerm/errDoubleCmdTerm), generalized to the
// connection lifecycle.
var (
	ErrNotConnected    = errors.New("client104: not connected")
	ErrAlreadyClosed   = errors.New("client104: already closed")
	ErrStartDTTimeout  = errors.New("client104: STARTDT_CON not received before connect timeout")
	ErrStopDTTimeout   = errors.New("client104: STOPDT_CON not received before connect timeout")
	ErrT1Timeout       = errors.New("client104: t1 expired waiting for acknowledgement")
	ErrTestFRTimeout   = errors.New("client104: TESTFR_CON not received before t1 expiry")
)
