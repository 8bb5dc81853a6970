package mettler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fako1024/scalebridge/pkg/mock"
	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	var tests = []struct {
		host    string
		port    int
		options []func(*Mettler)
	}{
		{"", 4001, nil},
		{"   ", 4001, nil},
		{"10.0.0.1", 0, nil},
		{"10.0.0.1", 70000, nil},
		{"10.0.0.1", 4001, []func(*Mettler){WithTimeout(0)}},
	}

	for _, tt := range tests {
		m, err := New(tt.host, tt.port, tt.options...)
		assert.Nil(t, m)
		assert.True(t, errors.Is(err, scale.ErrInvalidConfig), "unexpected error: %v", err)
	}

	m, err := New(" 10.0.0.1 ", 4001)
	require.Nil(t, err)
	assert.Equal(t, "10.0.0.1:4001", m.Addr())
	assert.Equal(t, defaultTimeout, m.Timeout())
}

func TestParseResponse(t *testing.T) {
	var tests = []struct {
		raw      string
		expected float64
		kind     scale.ErrorKind
		isErr    bool
	}{
		{"  -12.345  ", -12.345, 0, false},
		{"ST,+12.345kg", 12.345, 0, false},
		{"ST,+0.000kg\r\n", 0, 0, false},
		{"S S      0.125 kg", 0.125, 0, false},
		{"S D  1.5 kg 2.5", 1.5, 0, false},
		{"ES", 0, scale.KindUnstable, true},
		{" ES\r\n", 0, scale.KindUnstable, true},
		{"12", 0, scale.KindUnparseable, true},
		{"", 0, scale.KindUnparseable, true},
		{"EL", 0, scale.KindUnparseable, true},
		{"ESX 1", 0, scale.KindUnparseable, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			weight, err := ParseResponse(tt.raw)
			if !tt.isErr {
				require.Nil(t, err)
				assert.Equal(t, tt.expected, weight)
				return
			}

			kind, ok := scale.KindOf(err)
			require.True(t, ok, "unexpected error: %v", err)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestUnparseableKeepsRawText(t *testing.T) {
	_, err := ParseResponse("  OVERLOAD ")

	var devErr *scale.DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, "OVERLOAD", devErr.Raw)
	assert.True(t, errors.Is(err, scale.ErrUnparseable))
}

func TestQueryWeight(t *testing.T) {
	sim, err := mock.New()
	require.Nil(t, err)
	defer sim.Close()

	m, err := New(sim.Host(), sim.Port(), WithTimeout(time.Second))
	require.Nil(t, err)

	sim.Enqueue(mock.FormatWeight(12.345), mock.ReplyUnstable, "garbage")
	sim.SetWeight(-0.5)

	weight, err := m.QueryWeight(context.Background())
	require.Nil(t, err)
	assert.Equal(t, 12.345, weight)

	_, err = m.QueryWeight(context.Background())
	assert.True(t, errors.Is(err, scale.ErrUnstable))

	_, err = m.QueryWeight(context.Background())
	assert.True(t, errors.Is(err, scale.ErrUnparseable))

	weight, err = m.QueryWeight(context.Background())
	require.Nil(t, err)
	assert.Equal(t, -0.5, weight)

	// Every query uses a dedicated connection
	assert.Equal(t, 4, sim.Requests())
}

func TestQueryWeightTimeout(t *testing.T) {
	sim, err := mock.New()
	require.Nil(t, err)
	defer sim.Close()
	sim.SetSilent(true)

	m, err := New(sim.Host(), sim.Port(), WithTimeout(100*time.Millisecond))
	require.Nil(t, err)

	start := time.Now()
	_, err = m.QueryWeight(context.Background())
	assert.True(t, errors.Is(err, scale.ErrTransport), "unexpected error: %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryWeightCancel(t *testing.T) {
	sim, err := mock.New()
	require.Nil(t, err)
	defer sim.Close()
	sim.SetSilent(true)

	m, err := New(sim.Host(), sim.Port(), WithTimeout(time.Minute))
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = m.QueryWeight(ctx)
	assert.True(t, errors.Is(err, scale.ErrTransport), "unexpected error: %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestQueryWeightConnectionRefused(t *testing.T) {

	// Grab a free port and release it again so nothing is listening on it
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.Nil(t, l.Close())

	m, err := New("127.0.0.1", port, WithTimeout(time.Second))
	require.Nil(t, err)

	_, err = m.QueryWeight(context.Background())
	kind, ok := scale.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, scale.KindTransport, kind)
}

type failingDialer struct {
	calls int
}

func (d *failingDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.calls++
	return nil, errors.New("network unreachable")
}

func TestWithDialer(t *testing.T) {
	dialer := &failingDialer{}
	m, err := New("scale.local", 4001, WithDialer(dialer))
	require.Nil(t, err)

	_, err = m.QueryWeight(context.Background())
	assert.EqualError(t, err, "transport failure: network unreachable")
	assert.Equal(t, 1, dialer.calls)
}
