package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fako1024/scalebridge/pkg/metrics"
	"github.com/fako1024/scalebridge/pkg/scale"
	"golang.org/x/sync/errgroup"
)

const defaultDeliveryTimeout = 10 * time.Second

// Result denotes the outcome of delivering one event to one sink
type Result struct {
	Sink      string
	Event     scale.StableWeight
	TimeStamp time.Time
	Latency   time.Duration
	Err       error
}

// Forwarder denotes a fan-out of stable weight events to a set of sinks
type Forwarder struct {
	sinks   []Sink
	timeout time.Duration

	eventHandler  func(event scale.StableWeight)
	resultHandler func(res Result)

	metrics *metrics.Metrics
	logger  scale.Logger
}

// NewForwarder instantiates a new Forwarder, executing functional options, if any
func NewForwarder(sinks []Sink, options ...func(*Forwarder)) (*Forwarder, error) {
	if len(sinks) == 0 {
		return nil, scale.NewConfigurationError("sinks", "at least one sink is required")
	}

	f := &Forwarder{
		sinks:   sinks,
		timeout: defaultDeliveryTimeout,
		logger:  &scale.NullLogger{},
	}

	for _, option := range options {
		option(f)
	}

	if f.timeout <= 0 {
		return nil, scale.NewConfigurationError("delivery timeout", "must be positive, got %v", f.timeout)
	}

	return f, nil
}

// WithDeliveryTimeout sets the per sink timeout for a single delivery
func WithDeliveryTimeout(timeout time.Duration) func(*Forwarder) {
	return func(f *Forwarder) {
		f.timeout = timeout
	}
}

// WithEventHandler defines a handler function that is called for each event
// before it is delivered
func WithEventHandler(fn func(event scale.StableWeight)) func(*Forwarder) {
	return func(f *Forwarder) {
		f.eventHandler = fn
	}
}

// WithResultHandler defines a handler function that is called after each delivery.
// Deliveries run concurrently, so the handler must be safe for concurrent use
func WithResultHandler(fn func(res Result)) func(*Forwarder) {
	return func(f *Forwarder) {
		f.resultHandler = fn
	}
}

// WithMetrics sets the metrics to report to
func WithMetrics(m *metrics.Metrics) func(*Forwarder) {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Forwarder) {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// Sinks returns the names of all configured sinks
func (f *Forwarder) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Run forwards all events received on the channel until it is closed
func (f *Forwarder) Run(ctx context.Context, events <-chan scale.StableWeight) {
	for event := range events {
		f.logger.Debugf("forwarding weight %s g to %d sink(s)", scale.FormatWeight(event.Weight), len(f.sinks))

		// Call handler function, if any
		if f.eventHandler != nil {
			f.eventHandler(event)
		}

		// Failures are reported via log / metrics / result handler already
		_, _ = f.Forward(ctx, event)
	}
}

// Forward delivers a single event to all sinks concurrently. Failing sinks do
// not affect the others, all failures are combined in the returned error
func (f *Forwarder) Forward(ctx context.Context, event scale.StableWeight) ([]Result, error) {

	results := make([]Result, len(f.sinks))

	var g errgroup.Group
	for i, s := range f.sinks {
		i, s := i, s
		g.Go(func() error {
			results[i] = f.deliver(ctx, s, event)
			return results[i].Err
		})
	}

	// The first error is contained in the joined error below as well
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Sink, res.Err))
		}
	}

	return results, errors.Join(errs...)
}

// Close terminates all sinks holding resources
func (f *Forwarder) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close sink %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

////////////////////////////////////////////////////////////////////////////////

func (f *Forwarder) deliver(ctx context.Context, s Sink, event scale.StableWeight) Result {

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	err := s.Accept(ctx, event)
	res := Result{
		Sink:      s.Name(),
		Event:     event,
		TimeStamp: start,
		Latency:   time.Since(start),
		Err:       err,
	}

	f.metrics.SinkResult(res.Sink, res.Latency, err)
	if err != nil {
		f.logger.Errorf("failed to deliver weight %s g to %s: %s", scale.FormatWeight(event.Weight), res.Sink, err)
	} else {
		f.logger.Infof("delivered weight %s g to %s", scale.FormatWeight(event.Weight), res.Sink)
	}

	// Call handler function, if any
	if f.resultHandler != nil {
		f.resultHandler(res)
	}

	return res
}
