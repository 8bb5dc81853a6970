package stabilizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/scalebridge/pkg/metrics"
	"github.com/fako1024/scalebridge/pkg/mettler"
	"github.com/fako1024/scalebridge/pkg/mock"
	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replyTimeout = "<timeout>"

// script denotes a scale replaying a fixed sequence of raw replies. Once
// exhausted, it blocks until the context is cancelled
type script struct {
	replies []string
	idx     int

	done     chan struct{}
	doneOnce sync.Once
}

func newScript(replies ...string) *script {
	return &script{
		replies: replies,
		done:    make(chan struct{}),
	}
}

func (s *script) QueryWeight(ctx context.Context) (float64, error) {
	if s.idx >= len(s.replies) {
		s.doneOnce.Do(func() { close(s.done) })
		<-ctx.Done()
		return 0, scale.NewTransportError(ctx.Err())
	}

	reply := s.replies[s.idx]
	s.idx++

	if reply == replyTimeout {
		return 0, scale.NewTransportError(errors.New("i/o timeout"))
	}
	return mettler.ParseResponse(reply)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	return cfg
}

// collect runs the engine until the script is exhausted and returns all events
func collect(t *testing.T, e *Engine, s *script) []scale.StableWeight {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := e.Run(ctx)
	require.Nil(t, err)

	var res []scale.StableWeight
	collected := make(chan struct{})
	go func() {
		for ev := range events {
			res = append(res, ev)
		}
		close(collected)
	}()

	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		t.Fatalf("script was not consumed in time (%d/%d)", s.idx, len(s.replies))
	}
	cancel()

	select {
	case <-collected:
	case <-time.After(10 * time.Second):
		t.Fatalf("event channel was not closed after cancellation")
	}

	return res
}

func TestInit(t *testing.T) {
	e, err := New(nil, DefaultConfig())
	assert.Nil(t, e)
	assert.ErrorIs(t, err, scale.ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.StabilityThreshold = 0
	e, err = New(newScript(), cfg)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, scale.ErrInvalidConfig)

	e, err = New(newScript(), DefaultConfig())
	require.Nil(t, err)
	assert.Equal(t, DefaultConfig(), e.Config())
}

func TestEndToEndScenario(t *testing.T) {
	s := newScript(
		"ST,+0.000kg",
		"ST,+0.000kg",
		"ST,+12.345kg",
		"ST,+12.345kg",
		"ST,+12.345kg",
	)

	var polls []Poll
	e, err := New(s, testConfig(), WithPollHandler(func(p Poll) {
		polls = append(polls, p)
	}))
	require.Nil(t, err)

	events := collect(t, e, s)
	require.Len(t, events, 1)
	assert.InDelta(t, 12345., events[0].Weight, 1e-6)

	require.Len(t, polls, 5)
	assert.Equal(t, OutcomeEmpty, polls[0].Outcome)
	assert.Equal(t, OutcomeEmpty, polls[1].Outcome)
	assert.Equal(t, OutcomeAccumulating, polls[2].Outcome)
	assert.Equal(t, 1, polls[2].StableCount)
	assert.Equal(t, 2, polls[3].StableCount)
	assert.Equal(t, OutcomeEmitted, polls[4].Outcome)
	assert.Equal(t, PhaseConfirmed, polls[4].Phase)
}

func TestErrorsAreAbsorbed(t *testing.T) {
	s := newScript(
		"ST,+0.050kg", "ST,+0.050kg", "ST,+0.050kg",
		replyTimeout, "ES", "12", "garbage",
		"ST,+0.050kg", "ST,+0.050kg", "ST,+0.050kg",
		"ST,+0.000kg",
		"ST,+0.050kg", "ST,+0.050kg", "ST,+0.050kg",
	)

	var statusChanges []scale.ConnectionStatus
	var failed int
	e, err := New(s, testConfig(),
		WithStateChangeHandler(func(status scale.ConnectionStatus) {
			statusChanges = append(statusChanges, status)
		}),
		WithPollHandler(func(p Poll) {
			if p.Err != nil {
				failed++
				assert.Equal(t, PhaseIdle, p.Phase)
			}
		}),
	)
	require.Nil(t, err)

	events := collect(t, e, s)

	// The errors in between do not re-arm deduplication, the empty scale does
	require.Len(t, events, 2)
	assert.InDelta(t, 50., events[0].Weight, 1e-9)
	assert.InDelta(t, 50., events[1].Weight, 1e-9)
	assert.Equal(t, 4, failed)

	require.Len(t, statusChanges, 3)
	assert.Equal(t, scale.StateConnected, statusChanges[0].State)
	assert.Equal(t, scale.StateDisconnected, statusChanges[1].State)
	assert.ErrorIs(t, statusChanges[1].Error, scale.ErrTransport)
	assert.Equal(t, scale.StateConnected, statusChanges[2].State)
}

func TestRunOnce(t *testing.T) {
	e, err := New(newScript(), testConfig())
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = e.Run(ctx)
	require.Nil(t, err)

	_, err = e.Run(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCancelDuringSleep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour

	s := newScript("ST,+1.000kg", "ST,+1.000kg")
	e, err := New(s, cfg)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.Run(ctx)
	require.Nil(t, err)

	time.AfterFunc(50*time.Millisecond, cancel)

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatalf("poll loop did not observe cancellation during sleep")
	}
	assert.Equal(t, 1, s.idx)
}

func TestMetrics(t *testing.T) {
	s := newScript("ST,+1.000kg", "ES", "ST,+1.000kg", "ST,+1.000kg", "ST,+1.000kg")

	m, err := metrics.New(prometheus.NewRegistry())
	require.Nil(t, err)

	e, err := New(s, testConfig(), WithMetrics(m), WithLogger(&scale.NullLogger{}))
	require.Nil(t, err)

	events := collect(t, e, s)
	require.Len(t, events, 1)
	assert.InDelta(t, 1000., events[0].Weight, 1e-9)
}

func TestClock(t *testing.T) {
	s := newScript("ST,+1.000kg", "ST,+1.000kg", "ST,+1.000kg")

	var ticks int
	e, err := New(s, testConfig(), WithClock(func() time.Time {
		ticks++
		return t0.Add(time.Duration(ticks) * time.Second)
	}))
	require.Nil(t, err)

	events := collect(t, e, s)
	require.Len(t, events, 1)
	assert.Equal(t, 2*time.Second, events[0].SettleTime)
}

func TestWithSimulator(t *testing.T) {
	sim, err := mock.New()
	require.Nil(t, err)
	defer sim.Close()

	sim.Enqueue(
		mock.FormatWeight(0), mock.ReplyUnstable,
		mock.FormatWeight(0.25), mock.FormatWeight(0.25), mock.FormatWeight(0.25),
	)
	sim.SetWeight(0.25)

	device, err := mettler.New(sim.Host(), sim.Port(), mettler.WithTimeout(time.Second))
	require.Nil(t, err)

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	e, err := New(device, cfg)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := e.Run(ctx)
	require.Nil(t, err)

	select {
	case ev := <-events:
		assert.InDelta(t, 250., ev.Weight, 1e-9)
	case <-time.After(10 * time.Second):
		t.Fatalf("no stable weight received")
	}

	// The same weight resting on the scale must not be reported again
	select {
	case ev := <-events:
		t.Fatalf("unexpected duplicate event: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSilentDevice(t *testing.T) {
	sim, err := mock.New()
	require.Nil(t, err)
	defer sim.Close()
	sim.SetSilent(true)

	device, err := mettler.New(sim.Host(), sim.Port(), mettler.WithTimeout(20*time.Millisecond))
	require.Nil(t, err)

	var (
		mu       sync.Mutex
		failures []error
	)
	e, err := New(device, testConfig(), WithPollHandler(func(p Poll) {
		mu.Lock()
		failures = append(failures, p.Err)
		mu.Unlock()
	}))
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.Run(ctx)
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		return sim.Requests() >= 3
	}, 10*time.Second, 10*time.Millisecond)
	cancel()

	for ev := range events {
		t.Fatalf("unexpected event from silent device: %v", ev)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, failures)
	assert.ErrorIs(t, failures[0], scale.ErrTransport)
}
