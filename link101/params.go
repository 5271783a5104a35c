// Package link101 implements the CS101 FT 1.2 link layer: frame
// codec plus the unbalanced (polled) and balanced link-layer state
// machines that sit beneath the shared ASDU application layer.
package link101

import "time"

// Params (LinkLayerParameters) configures one link.
type Params struct {
	// AddressLength is 0, 1 or 2 bytes. 0 means no link address is
	// transmitted (point-to-point links).
	AddressLength int
	// TimeoutForAck (t1) bounds the wait for any response to a
	// confirmed request.
	TimeoutForAck time.Duration
	// TimeoutRepeat (t2) is the retry interval after a t1 expiry.
	TimeoutRepeat time.Duration
	// TimeoutLinkState (t0) bounds link-status/reset negotiation.
	TimeoutLinkState time.Duration
	// UseSingleCharACK accepts/sends the single-character 0xE5 ACK in
	// place of a short confirmation frame.
	UseSingleCharACK bool
	// MaxRetries bounds retransmissions of a confirmed frame before the
	// link is considered failed (LL_STATE_ERROR).
	MaxRetries int
}

// DefaultParams mirrors common CS101 field defaults.
var DefaultParams = Params{
	AddressLength:    1,
	TimeoutForAck:    1 * time.Second,
	TimeoutRepeat:    2 * time.Second,
	TimeoutLinkState: 3 * time.Second,
	UseSingleCharACK: true,
	MaxRetries:       3,
}
