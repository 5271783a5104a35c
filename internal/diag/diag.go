// Package diag samples low-level TCP connection diagnostics
// (retransmits, RTT, congestion window) for CS104 connections, best
// effort and platform-dependent. Grounded on the fd-extraction pattern
// of the sockstats exporter pack example
// (pkg/exporter/exporter.go's netfd.GetFdFromConn), generalized from a
// Prometheus collector into a point-in-time sampler a connection can
// poll on demand.
package diag

import "net"

// TCPInfo is a platform-independent snapshot of kernel TCP state.
type TCPInfo struct {
	RTTMicros        uint32
	RTTVarMicros     uint32
	Retransmits      uint32
	TotalRetransmits uint32
	SendCwnd         uint32
}

// Sampler reads TCPInfo for a connection. Sample returns ok=false when
// the platform or connection type doesn't support sampling, never an
// error: diagnostics are advisory and must never fail a connection.
type Sampler interface {
	Sample(conn net.Conn) (info TCPInfo, ok bool)
}
