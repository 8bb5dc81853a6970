package stabilizer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fako1024/scalebridge/pkg/metrics"
	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fatih/stopwatch"
)

var _ scale.EventSource = (*Engine)(nil)

// ErrAlreadyRunning denotes an attempt to run an Engine more than once
var ErrAlreadyRunning = errors.New("engine is already running")

// Poll denotes the result of a single poll tick, as reported to a poll handler
type Poll struct {
	TimeStamp time.Time
	Latency   time.Duration

	// Sample is only valid if Err is nil
	Sample  scale.Sample
	Outcome Outcome
	Err     error

	Phase       Phase
	StableCount int
}

// Engine denotes the poll loop turning raw scale readings into a stream of
// stable, de-duplicated weight events
type Engine struct {
	device scale.Querier
	cfg    Config

	connectionStatus   scale.ConnectionStatus
	stateChangeHandler func(status scale.ConnectionStatus)
	pollHandler        func(poll Poll)

	now     func() time.Time
	running atomic.Bool

	metrics *metrics.Metrics
	logger  scale.Logger
}

// New instantiates a new Engine polling the provided device, executing
// functional options, if any
func New(device scale.Querier, cfg Config, options ...func(*Engine)) (*Engine, error) {

	if device == nil {
		return nil, scale.NewConfigurationError("device", "is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		device: device,
		cfg:    cfg,
		now:    time.Now,
		logger: &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(e)
	}

	return e, nil
}

// Config returns the configuration of the Engine
func (e *Engine) Config() Config {
	return e.cfg
}

// Run starts the poll loop in the background. Stable weight events are put on
// the returned channel, which is closed once the context is cancelled. An Engine
// can only be run once, restarting requires a new instance
func (e *Engine) Run(ctx context.Context) (<-chan scale.StableWeight, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	events := make(chan scale.StableWeight)
	go e.loop(ctx, events)

	return events, nil
}

////////////////////////////////////////////////////////////////////////////////

func (e *Engine) loop(ctx context.Context, events chan<- scale.StableWeight) {
	defer close(events)

	e.logger.Infof("starting to poll scale every %v (threshold %.1fg, %d samples within %.1fg)",
		e.cfg.PollInterval, e.cfg.WeightThreshold, e.cfg.StabilityThreshold, e.cfg.StabilityEpsilon)

	state := NewState(e.cfg)
	for {
		if ctx.Err() != nil {
			e.logger.Debugf("stopping poll loop: %s", ctx.Err())
			return
		}

		if event, ok := e.tick(ctx, &state); ok {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}

		if !sleep(ctx, e.cfg.PollInterval) {
			e.logger.Debugf("stopping poll loop: %s", ctx.Err())
			return
		}
	}
}

func (e *Engine) tick(ctx context.Context, state *State) (scale.StableWeight, bool) {

	timer := stopwatch.Start(0)
	kg, err := e.device.QueryWeight(ctx)
	timer.Stop()

	poll := Poll{
		TimeStamp: e.now(),
		Latency:   timer.ElapsedTime(),
	}
	e.metrics.ObservePoll(poll.Latency)

	if err != nil {

		// Cancellation during the round trip is not a device problem
		if ctx.Err() != nil {
			return scale.StableWeight{}, false
		}

		state.Fail()
		e.handleError(err)

		poll.Err = err
		poll.Phase = state.Phase()
		e.reportPoll(poll)

		return scale.StableWeight{}, false
	}
	e.setStatus(scale.StateConnected, nil)

	poll.Sample = scale.NewSample(kg, poll.TimeStamp)
	outcome, event := state.Observe(poll.Sample)
	e.metrics.Sample(poll.Sample.Weight, outcome.String())

	switch outcome {
	case OutcomeEmpty:
		e.logger.Debugf("weight %.1fg at or below threshold (%.1fg), ignoring", poll.Sample.Weight, e.cfg.WeightThreshold)
	case OutcomeAccumulating:
		e.logger.Debugf("weight %.1fg, stable reading count: %d/%d", poll.Sample.Weight, state.StableCount(), e.cfg.StabilityThreshold)
	case OutcomeDuplicate:
		e.logger.Debugf("weight %.1fg unchanged from last sent value", poll.Sample.Weight)
	case OutcomeEmitted:
		e.logger.Infof("stable weight detected: %.1fg (settled after %v)", event.Weight, event.SettleTime)
		e.metrics.StableWeight(event.Weight)
	}

	poll.Outcome = outcome
	poll.Phase = state.Phase()
	poll.StableCount = state.StableCount()
	e.reportPoll(poll)

	return event, outcome == OutcomeEmitted
}

func (e *Engine) handleError(err error) {

	kind, ok := scale.KindOf(err)
	if !ok {
		kind = scale.KindTransport
	}
	e.metrics.DeviceError(kind.String())

	switch kind {
	case scale.KindTransport:
		e.setStatus(scale.StateDisconnected, err)
		e.logger.Debugf("error reading scale: %s", err)
	case scale.KindUnstable:
		e.setStatus(scale.StateConnected, nil)
		e.logger.Debugf("%s, continuing", err)
	case scale.KindUnparseable:
		e.setStatus(scale.StateConnected, nil)
		e.logger.Warnf("no valid weight found in response: %s", err)
	}
}

func (e *Engine) setStatus(state scale.State, err error) {
	status := scale.ConnectionStatus{
		State: state,
		Error: err,
	}

	// Only report actual changes of the connection state
	if status.State == e.connectionStatus.State {
		e.connectionStatus = status
		return
	}
	e.connectionStatus = status

	if state == scale.StateDisconnected {
		e.logger.Warnf("lost connection to scale: %s", err)
	} else {
		e.logger.Infof("connection to scale established")
	}

	// Call handler function, if any
	if e.stateChangeHandler != nil {
		e.stateChangeHandler(status)
	}
}

func (e *Engine) reportPoll(poll Poll) {
	if e.pollHandler != nil {
		e.pollHandler(poll)
	}
}

// sleep waits for the provided duration, returning false if the context was
// cancelled in the meantime
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
