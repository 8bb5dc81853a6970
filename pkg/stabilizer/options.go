package stabilizer

import (
	"time"

	"github.com/fako1024/scalebridge/pkg/metrics"
	"github.com/fako1024/scalebridge/pkg/scale"
)

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics to report to
func WithMetrics(m *metrics.Metrics) func(*Engine) {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithStateChangeHandler defines a handler function that is called upon connection state change
func WithStateChangeHandler(fn func(status scale.ConnectionStatus)) func(*Engine) {
	return func(e *Engine) {
		e.stateChangeHandler = fn
	}
}

// WithPollHandler defines a handler function that is called after every poll
// attempt. It is executed on the poll loop and must not block
func WithPollHandler(fn func(poll Poll)) func(*Engine) {
	return func(e *Engine) {
		e.pollHandler = fn
	}
}

// WithClock overrides the source of sample timestamps
func WithClock(now func() time.Time) func(*Engine) {
	return func(e *Engine) {
		e.now = now
	}
}
