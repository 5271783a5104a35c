//go:build linux

package diag

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// LinuxSampler reads TCP_INFO via getsockopt on the raw file
// descriptor extracted with netfd.GetFdFromConn.
type LinuxSampler struct{}

func (LinuxSampler) Sample(conn net.Conn) (TCPInfo, bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return TCPInfo{}, false
	}
	fd := netfd.GetFdFromConn(tc)
	if fd <= 0 {
		return TCPInfo{}, false
	}
	raw, err := unix.GetsockoptTCPInfo(fd, unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return TCPInfo{}, false
	}
	return TCPInfo{
		RTTMicros:        raw.Rtt,
		RTTVarMicros:     raw.Rttvar,
		Retransmits:      uint32(raw.Retransmits),
		TotalRetransmits: raw.Total_retrans,
		SendCwnd:         raw.Snd_cwnd,
	}, true
}

// NewSampler returns the Linux TCP_INFO sampler.
func NewSampler() Sampler {
	return LinuxSampler{}
}
