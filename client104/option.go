package client104

import (
	"crypto/tls"
	"net/url"
	"strings"
	"time"

	"github.com/gridstream/go-iec60870/apci"
	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/event"
	"github.com/gridstream/go-iec60870/metrics"
)

// Default timings mirror the teacher's client_option.go constants,
// generalized to the full APCI parameter set.
const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultReconnectRetries  = 10
	DefaultReconnectInterval = 5 * time.Second
)

// ASDUHandler receives every ASDU the connection delivers. Handlers run
// on the connection's reader goroutine and must not block for long.
type ASDUHandler func(c *Client, a *asdu.ASDU)

// OnConnectHandler runs after STARTDT is confirmed.
type OnConnectHandler func(c *Client)

// OnDisconnectHandler runs after the connection is torn down.
type OnDisconnectHandler func(c *Client)

// AutoReconnectRule bounds the reconnect loop, mirroring the teacher's
// AutoReconnectRule.
type AutoReconnectRule struct {
	Retries  int
	Interval time.Duration
}

// Option configures a Client, built with the same builder-method style
// as the teacher's ClientOption (not functional options: SetX returns
// *Option for chaining).
type Option struct {
	server *url.URL

	connectTimeout    time.Duration
	autoReconnectRule *AutoReconnectRule

	apciParams  apci.Params
	asduParams  asdu.Params
	tlsConfig   *tls.Config
	eventSink   event.Sink
	metricsSet  *metrics.Set

	onConnect    OnConnectHandler
	onDisconnect OnDisconnectHandler
	handler      ASDUHandler
}

// NewOption parses server (accepting bare "host:port" the way the
// teacher's NewClientOption does) and returns an Option with every
// default populated.
func NewOption(server string, handler ASDUHandler) (*Option, error) {
	if len(server) > 0 && server[0] == ':' {
		server = "127.0.0.1" + server
	}
	if !strings.Contains(server, "://") {
		server = "tcp://" + server
	}
	remoteURL, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	return &Option{
		server:         remoteURL,
		connectTimeout: DefaultConnectTimeout,
		autoReconnectRule: &AutoReconnectRule{
			Retries:  DefaultReconnectRetries,
			Interval: DefaultReconnectInterval,
		},
		apciParams: apci.DefaultParams,
		asduParams: asdu.ParamsWide104,
		eventSink:  event.Discard,
		handler:    handler,
	}, nil
}

func (o *Option) SetConnectTimeout(timeout time.Duration) *Option {
	if timeout > 0 {
		o.connectTimeout = timeout
	}
	return o
}

func (o *Option) SetAutoReconnectRule(rule *AutoReconnectRule) *Option {
	if rule == nil {
		return o
	}
	if rule.Retries < 0 {
		rule.Retries = DefaultReconnectRetries
	}
	if rule.Interval < 0 {
		rule.Interval = DefaultReconnectInterval
	}
	o.autoReconnectRule = rule
	return o
}

func (o *Option) SetTLS(tc *tls.Config) *Option {
	o.tlsConfig = tc
	return o
}

func (o *Option) SetAPCIParams(p apci.Params) *Option {
	o.apciParams = p
	return o
}

func (o *Option) SetASDUParams(p asdu.Params) *Option {
	o.asduParams = p
	return o
}

func (o *Option) SetEventSink(sink event.Sink) *Option {
	if sink != nil {
		o.eventSink = sink
	}
	return o
}

func (o *Option) SetMetrics(m *metrics.Set) *Option {
	o.metricsSet = m
	return o
}

func (o *Option) SetOnConnectHandler(handler OnConnectHandler) *Option {
	if handler != nil {
		o.onConnect = handler
	}
	return o
}

func (o *Option) SetOnDisconnectHandler(handler OnDisconnectHandler) *Option {
	if handler != nil {
		o.onDisconnect = handler
	}
	return o
}
