// Package apci implements the CS104 APCI layer: APDU frame codec
// (I/S/U), the sliding-window send/receive accounting, and the
// parameters of the STARTDT/STOPDT/TESTFR timers (t0..t3). The timers
// themselves run in the role engines (client104, server104).
package apci

import (
	"fmt"
	"time"
)

// Params (ApciParameters) configures one CS104 connection.
type Params struct {
	K  int // max unacknowledged sent I-frames
	W  int // max unacknowledged received I-frames before a forced S-ack
	T0 time.Duration
	T1 time.Duration
	T2 time.Duration
	T3 time.Duration
}

// DefaultParams mirrors the configuration-surface defaults of spec.md §6.
var DefaultParams = Params{
	K:  12,
	W:  8,
	T0: 30 * time.Second,
	T1: 15 * time.Second,
	T2: 10 * time.Second,
	T3: 20 * time.Second,
}

// Valid checks the invariants named in spec.md §3: k,w in 1..32767 and
// w <= k.
func (p Params) Valid() error {
	if p.K < 1 || p.K > 32767 {
		return fmt.Errorf("apci: k must be in 1..32767, got %d", p.K)
	}
	if p.W < 1 || p.W > 32767 {
		return fmt.Errorf("apci: w must be in 1..32767, got %d", p.W)
	}
	if p.W > p.K {
		return fmt.Errorf("apci: w (%d) must be <= k (%d)", p.W, p.K)
	}
	if p.T0 <= 0 || p.T1 <= 0 || p.T2 <= 0 || p.T3 <= 0 {
		return fmt.Errorf("apci: t0..t3 must all be positive")
	}
	return nil
}
