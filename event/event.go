// Package event carries the protocol-level notifications role engines
// raise (connection lifecycle, protocol violations, decoded data) to an
// application-supplied Sink, separate from the textual logging stream.
package event

import (
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/gridstream/go-iec60870/asdu"
)

// NewCorrID mints a correlation ID for a connection,
// used to tie together log lines and events spanning its lifetime.
func NewCorrID() string {
	return xid.New().String()
}

// Type classifies an Event as a lifecycle/control occurrence, a batch of
// decoded data, or a protocol/transport error.
type Type string

const (
	TypeControl Type = "control"
	TypeData    Type = "data"
	TypeError   Type = "error"
)

// Kind enumerates the control-event vocabulary a role engine raises.
type Kind string

const (
	KindOpened       Kind = "opened"
	KindClosed       Kind = "closed"
	KindActivated    Kind = "activated"
	KindDeactivated  Kind = "deactivated"
	KindReconnecting Kind = "reconnecting"
	KindFailed       Kind = "failed"
	KindBusy         Kind = "busy"
	KindError        Kind = "error"
)

// Record is one decoded information object delivered alongside a
// Type == TypeData event.
type Record struct {
	TypeID asdu.TypeID
	IOA    asdu.IOA
	Body   []byte
}

// Event is one notification raised by a role engine. Attempt/MaxAttempts
// are only meaningful for Kind == KindReconnecting; Records is only
// populated for Type == TypeData.
type Event struct {
	Type Type
	Kind Kind

	Peer   string // remote address or link/common address, for correlation
	CorrID string // connection correlation ID, see NewCorrID
	Reason string
	Err    error

	Attempt     int
	MaxAttempts int

	Records []Record
}

// Sink receives events as they occur. Implementations must not block
// the caller for long; role engines call Sink synchronously from their
// worker goroutines.
type Sink interface {
	Notify(Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Notify(Event) {}

// LogrusSink forwards events to a *logrus.Entry at a level derived from
// the event type/kind, matching the teacher's global-logger idiom
// (define.go's package-level _lg) generalized to a structured sink any
// role engine can be constructed with.
type LogrusSink struct {
	Entry *logrus.Entry
}

// NewLogrusSink wraps lg (or logrus.StandardLogger() if nil) in a Sink.
func NewLogrusSink(lg *logrus.Logger) *LogrusSink {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &LogrusSink{Entry: logrus.NewEntry(lg)}
}

func (s *LogrusSink) Notify(e Event) {
	entry := s.Entry
	if e.Peer != "" {
		entry = entry.WithField("peer", e.Peer)
	}
	if e.CorrID != "" {
		entry = entry.WithField("corr_id", e.CorrID)
	}

	switch e.Type {
	case TypeData:
		entry.WithField("records", len(e.Records)).Debug("data event")
		return
	case TypeError:
		entry = entry.WithField("event", string(e.Kind))
		if e.Err != nil {
			entry.WithError(e.Err).Warn(e.Reason)
		} else {
			entry.Warn(e.Reason)
		}
		return
	}

	entry = entry.WithField("event", string(e.Kind))
	switch e.Kind {
	case KindBusy:
		entry.Warn(e.Reason)
	case KindClosed, KindFailed:
		if e.Err != nil {
			entry.WithError(e.Err).Error(e.Reason)
		} else {
			entry.Info(e.Reason)
		}
	case KindReconnecting:
		entry.WithField("attempt", e.Attempt).WithField("max_attempts", e.MaxAttempts).Warn(e.Reason)
	default:
		entry.Info(e.Reason)
	}
}
