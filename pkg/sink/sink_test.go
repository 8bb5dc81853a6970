package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/scalebridge/pkg/metrics"
	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEvent = scale.StableWeight{
	TimeStamp:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	Weight:     12345.000000000002,
	SettleTime: 2500 * time.Millisecond,
}

func TestNewPayload(t *testing.T) {
	p := NewPayload(testEvent)
	assert.Equal(t, "12345.0", p.Formatted)
	assert.Equal(t, "g", p.Unit)
	assert.Equal(t, int64(2500), p.SettleTimeMs)

	data, err := json.Marshal(p)
	require.Nil(t, err)
	assert.Contains(t, string(data), `"formatted":"12345.0"`)
	assert.Contains(t, string(data), `"timestamp":"2024-03-01T08:00:00Z"`)
}

func TestSendJSON(t *testing.T) {
	var (
		mu           sync.Mutex
		defaultState string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var received map[string]string
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&received))

		mu.Lock()
		defaultState = received["DefaultState"]
		mu.Unlock()

		if received["fail"] != "" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("  upstream down \n"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-Token", "secret")

	_, err := SendJSON(context.Background(), srv.Client(), Request{
		Method:  http.MethodPatch,
		URL:     srv.URL,
		Header:  header,
		Payload: map[string]string{"DefaultState": "1.0"},
		Accept:  StatusIs(http.StatusNoContent),
	})
	require.Nil(t, err)
	mu.Lock()
	assert.Equal(t, "1.0", defaultState)
	mu.Unlock()

	_, err = SendJSON(context.Background(), srv.Client(), Request{
		Method:  http.MethodPatch,
		URL:     srv.URL,
		Header:  header,
		Payload: map[string]string{"fail": "yes"},
	})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.EqualError(t, err, "unexpected status 502: upstream down")

	// Unacceptable but successful status
	_, err = SendJSON(context.Background(), srv.Client(), Request{
		Method:  http.MethodPatch,
		URL:     srv.URL,
		Header:  header,
		Payload: map[string]string{},
		Accept:  StatusIs(http.StatusOK),
	})
	assert.EqualError(t, err, "unexpected status 204")
}

func TestSendJSONInvalidPayload(t *testing.T) {
	_, err := SendJSON(context.Background(), http.DefaultClient, Request{
		Method:  http.MethodPost,
		URL:     "http://127.0.0.1:1",
		Payload: make(chan int),
	})
	assert.NotNil(t, err)
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(204))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(500))
}

func TestNewForwarder(t *testing.T) {
	_, err := NewForwarder(nil)
	assert.ErrorIs(t, err, scale.ErrInvalidConfig)

	_, err = NewForwarder([]Sink{NewLog(nil)}, WithDeliveryTimeout(0))
	assert.ErrorIs(t, err, scale.ErrInvalidConfig)

	f, err := NewForwarder([]Sink{NewLog(nil), NewFunc("custom", nil)})
	require.Nil(t, err)
	assert.Equal(t, []string{"log", "custom"}, f.Sinks())
}

func TestForward(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
		handled  []string
	)

	ok := NewFunc("ok", func(_ context.Context, ev scale.StableWeight) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, scale.FormatWeight(ev.Weight))
		return nil
	})
	broken := NewFunc("broken", func(_ context.Context, _ scale.StableWeight) error {
		return errors.New("HTTP 500")
	})
	slow := NewFunc("slow", func(ctx context.Context, _ scale.StableWeight) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m, err := metrics.New(prometheus.NewRegistry())
	require.Nil(t, err)

	f, err := NewForwarder([]Sink{ok, broken, slow},
		WithDeliveryTimeout(50*time.Millisecond),
		WithMetrics(m),
		WithResultHandler(func(res Result) {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, res.Sink)
		}),
	)
	require.Nil(t, err)

	results, err := f.Forward(context.Background(), testEvent)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "broken: HTTP 500")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, results, 3)
	assert.Nil(t, results[0].Err)
	assert.NotNil(t, results[1].Err)
	assert.NotNil(t, results[2].Err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"12345.0"}, received)
	sort.Strings(handled)
	assert.Equal(t, []string{"broken", "ok", "slow"}, handled)
}

func TestRun(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []float64
		seen int
	)
	f, err := NewForwarder([]Sink{
		NewLog(&scale.NullLogger{}),
		NewFunc("collect", func(_ context.Context, ev scale.StableWeight) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev.Weight)
			return nil
		}),
	}, WithEventHandler(func(_ scale.StableWeight) {
		seen++
	}))
	require.Nil(t, err)

	events := make(chan scale.StableWeight, 3)
	events <- scale.StableWeight{Weight: 1}
	events <- scale.StableWeight{Weight: 2}
	events <- scale.StableWeight{Weight: 3}
	close(events)

	f.Run(context.Background(), events)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 2, 3}, got)
	assert.Equal(t, 3, seen)
}

type closingSink struct {
	*Func
	closed bool
	err    error
}

func (c *closingSink) Close() error {
	c.closed = true
	return c.err
}

func TestClose(t *testing.T) {
	good := &closingSink{Func: NewFunc("good", nil)}
	bad := &closingSink{Func: NewFunc("bad", nil), err: errors.New("broker gone")}

	f, err := NewForwarder([]Sink{good, NewLog(nil), bad})
	require.Nil(t, err)

	err = f.Close()
	assert.EqualError(t, err, "failed to close sink bad: broker gone")
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}
