// Package server104 implements the CS104 controlled station (slave):
// a TCP/TLS listener accepting one connection per remote master, each
// driving the same APCI sliding window as client104 but waiting for the
// peer to initiate STARTDT rather than initiating it itself. Grounded
// on the teacher's server.go skeleton (NewServer/Serve/listen/serve),
// generalized to the multi/redundant mode split of spec.md §"CS104
// server modes" and the maxClients worker bound.
package server104

import (
	"crypto/tls"
	"time"

	"github.com/gridstream/go-iec60870/apci"
	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/event"
	"github.com/gridstream/go-iec60870/metrics"
)

// Mode selects how accepted connections are grouped for activation
// exclusivity.
type Mode int

const (
	// ModeMulti treats every connection as its own activation domain:
	// any number of peers may be STARTDT-activated simultaneously.
	ModeMulti Mode = iota
	// ModeRedundant buckets connections into named GroupConfig groups by
	// peer IP; at most one connection per group may be activated.
	ModeRedundant
)

// DefaultMaxClients mirrors spec.md's documented default.
const DefaultMaxClients = 10

// GroupConfig names one redundancy group and the peer IPs allowed to
// join it. An empty Allow list is rejected at construction (Decision:
// the source's DefaultGroup fallback degrades silently to multi
// semantics; this implementation refuses the ambiguity instead).
type GroupConfig struct {
	Name  string
	Allow []string
}

// ConnHandler receives every ASDU a connection delivers.
type ConnHandler func(c *Conn, a *asdu.ASDU)

// OnActivateHandler runs when a connection's STARTDT is confirmed and
// (in redundant mode) it has been granted the active slot.
type OnActivateHandler func(c *Conn)

// OnDeactivateHandler runs when an activated connection is deactivated,
// either by its own STOPDT or because the connection closed.
type OnDeactivateHandler func(c *Conn)

// Option configures a Server, in the same builder style as client104.Option.
type Option struct {
	address string
	tls     *tls.Config

	mode       Mode
	groups     []GroupConfig
	maxClients int

	acceptTimeout time.Duration
	apciParams    apci.Params
	asduParams    asdu.Params

	eventSink  event.Sink
	metricsSet *metrics.Set

	handler      ConnHandler
	onActivate   OnActivateHandler
	onDeactivate OnDeactivateHandler
}

// NewOption builds an Option listening on address in ModeMulti with
// every default populated; call SetRedundantMode to switch modes.
func NewOption(address string, handler ConnHandler) *Option {
	return &Option{
		address:       address,
		mode:          ModeMulti,
		maxClients:    DefaultMaxClients,
		acceptTimeout: 30 * time.Second,
		apciParams:    apci.DefaultParams,
		asduParams:    asdu.ParamsWide104,
		eventSink:     event.Discard,
		handler:       handler,
	}
}

// SetRedundantMode switches the server to ModeRedundant with the given
// groups. groups (and every group's Allow list) must be non-empty, per
// the mandatory-allow-list decision recorded in DESIGN.md; invalid
// configuration surfaces at Server construction, not silently at
// accept time.
func (o *Option) SetRedundantMode(groups []GroupConfig) *Option {
	o.mode = ModeRedundant
	o.groups = groups
	return o
}

func (o *Option) SetMaxClients(n int) *Option {
	if n > 0 {
		o.maxClients = n
	}
	return o
}

func (o *Option) SetTLS(tc *tls.Config) *Option {
	o.tls = tc
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

func (o *Option) SetOnActivateHandler(h OnActivateHandler) *Option {
	if h != nil {
		o.onActivate = h
	}
	return o
}

func (o *Option) SetOnDeactivateHandler(h OnDeactivateHandler) *Option {
	if h != nil {
		o.onDeactivate = h
	}
	return o
}
