//go:build !linux

package diag

import "net"

// NoopSampler always reports no diagnostics available.
type NoopSampler struct{}

func (NoopSampler) Sample(conn net.Conn) (TCPInfo, bool) { return TCPInfo{}, false }

// NewSampler returns the no-op sampler on non-Linux platforms.
func NewSampler() Sampler {
	return NoopSampler{}
}
