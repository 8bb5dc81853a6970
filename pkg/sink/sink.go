// Package sink provides the delivery side of the bridge: the Sink capability
// implemented by all downstream integrations and a Forwarder fanning out stable
// weight events to them. Delivery is best-effort, failures are reported but
// never retried.
package sink

import (
	"context"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
)

// Sink denotes a downstream consumer of stable weight events
type Sink interface {

	// Name returns a short identifier of the sink (used in logs / metrics)
	Name() string

	// Accept delivers a single event
	Accept(ctx context.Context, event scale.StableWeight) error
}

// Payload denotes the generic JSON representation of a stable weight event
type Payload struct {
	Weight       float64   `json:"weight"`
	Formatted    string    `json:"formatted"`
	Unit         string    `json:"unit"`
	TimeStamp    time.Time `json:"timestamp"`
	SettleTimeMs int64     `json:"settle_time_ms"`
}

// NewPayload converts an event into its generic JSON representation
func NewPayload(event scale.StableWeight) Payload {
	return Payload{
		Weight:       event.Weight,
		Formatted:    scale.FormatWeight(event.Weight),
		Unit:         string(scale.UnitGrams),
		TimeStamp:    event.TimeStamp,
		SettleTimeMs: event.SettleTime.Milliseconds(),
	}
}

// Func adapts a plain function to the Sink interface
type Func struct {
	name string
	fn   func(ctx context.Context, event scale.StableWeight) error
}

// NewFunc instantiates a new named function sink
func NewFunc(name string, fn func(ctx context.Context, event scale.StableWeight) error) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the name of the sink
func (f *Func) Name() string {
	return f.name
}

// Accept delivers a single event
func (f *Func) Accept(ctx context.Context, event scale.StableWeight) error {
	return f.fn(ctx, event)
}

// Log denotes a dry-run sink, only logging what would have been sent
type Log struct {
	logger scale.Logger
}

// NewLog instantiates a new dry-run sink
func NewLog(logger scale.Logger) *Log {
	if logger == nil {
		logger = &scale.NullLogger{}
	}
	return &Log{logger: logger}
}

// Name returns the name of the sink
func (l *Log) Name() string {
	return "log"
}

// Accept logs the event
func (l *Log) Accept(_ context.Context, event scale.StableWeight) error {
	l.logger.Infof("[MOCK] would send weight: %s g (settled after %v)", scale.FormatWeight(event.Weight), event.SettleTime)
	return nil
}
