// Package metrics exposes protocol-level counters and gauges for role
// engines, grounded on the Prometheus collector style used by the
// sockstats exporter pack example (pkg/exporter/exporter.go): metrics
// are optional and nil-safe, registered against a caller-supplied
// prometheus.Registerer rather than the global default registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles every counter/gauge a role engine reports. A nil *Set is
// valid everywhere these methods are called and is a complete no-op,
// so metrics remain entirely optional.
type Set struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesDiscarded *prometheus.CounterVec
	windowFull     prometheus.Counter
	sendWindowSize prometheus.Gauge
	connections    prometheus.Gauge
	retries        *prometheus.CounterVec
}

// NewSet creates and registers a Set against reg, prefixing metric
// names with "iec60870_". reg may be prometheus.NewRegistry() or
// prometheus.DefaultRegisterer.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iec60870_frames_sent_total",
			Help: "APDUs/link frames transmitted, by frame kind.",
		}, []string{"kind"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iec60870_frames_received_total",
			Help: "APDUs/link frames received, by frame kind.",
		}, []string{"kind"}),
		framesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iec60870_frames_discarded_total",
			Help: "Frames discarded due to parse or protocol errors, by reason.",
		}, []string{"reason"}),
		windowFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iec60870_send_window_full_total",
			Help: "Times an outbound I-frame was blocked because k was reached.",
		}),
		sendWindowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iec60870_send_window_outstanding",
			Help: "Current count of unacknowledged outbound I-frames.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iec60870_connections_active",
			Help: "Currently open CS104 connections or CS101 links.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iec60870_link_retries_total",
			Help: "Unbalanced link-layer retries, by secondary link address.",
		}, []string{"link_address"}),
	}
	reg.MustRegister(
		s.framesSent, s.framesReceived, s.framesDiscarded,
		s.windowFull, s.sendWindowSize, s.connections, s.retries,
	)
	return s
}

func (s *Set) FrameSent(kind string) {
	if s == nil {
		return
	}
	s.framesSent.WithLabelValues(kind).Inc()
}

func (s *Set) FrameReceived(kind string) {
	if s == nil {
		return
	}
	s.framesReceived.WithLabelValues(kind).Inc()
}

func (s *Set) FrameDiscarded(reason string) {
	if s == nil {
		return
	}
	s.framesDiscarded.WithLabelValues(reason).Inc()
}

func (s *Set) WindowFull() {
	if s == nil {
		return
	}
	s.windowFull.Inc()
}

func (s *Set) SetOutstanding(n int) {
	if s == nil {
		return
	}
	s.sendWindowSize.Set(float64(n))
}

func (s *Set) ConnectionOpened() {
	if s == nil {
		return
	}
	s.connections.Inc()
}

func (s *Set) ConnectionClosed() {
	if s == nil {
		return
	}
	s.connections.Dec()
}

func (s *Set) Retry(linkAddress string) {
	if s == nil {
		return
	}
	s.retries.WithLabelValues(linkAddress).Inc()
}
