package scale

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKilogramsToGrams(t *testing.T) {
	assert.InDelta(t, -12345., KilogramsToGrams(-12.345), 1e-9)
	assert.InDelta(t, 12345., KilogramsToGrams(12.345), 1e-9)
	assert.Equal(t, 0., KilogramsToGrams(0))
}

func TestNewSample(t *testing.T) {
	s := NewSample(0.0125, time.Time{})
	assert.Equal(t, UnitGrams, s.Unit)
	assert.InDelta(t, 12.5, s.Value(), 1e-9)
}

func TestFormatWeight(t *testing.T) {
	assert.Equal(t, "12345.0", FormatWeight(12345.000000000002))
	assert.Equal(t, "0.5", FormatWeight(0.49999))
	assert.Equal(t, "-3.2", FormatWeight(-3.21))
	assert.Equal(t, "42.0g", StableWeight{Weight: 42}.String())
}

func TestDeviceErrorMatching(t *testing.T) {
	cause := errors.New("connection refused")

	var tests = []struct {
		err      error
		sentinel error
		kind     ErrorKind
		msg      string
	}{
		{&DeviceError{Kind: KindUnstable}, ErrUnstable, KindUnstable, "scale stabilization issue"},
		{NewUnparseableError("12"), ErrUnparseable, KindUnparseable, `unexpected response: "12"`},
		{NewTransportError(cause), ErrTransport, KindTransport, "transport failure: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			wrapped := fmt.Errorf("poll: %w", tt.err)

			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.EqualError(t, tt.err, tt.msg)

			kind, ok := KindOf(wrapped)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}

	assert.True(t, errors.Is(NewTransportError(cause), cause))
	assert.False(t, errors.Is(NewTransportError(cause), ErrUnstable))

	_, ok := KindOf(cause)
	assert.False(t, ok)
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("port", "must be positive, got %d", -1)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.EqualError(t, err, "invalid configuration: port must be positive, got -1")
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatConsole, LogFormatJSON, ""} {
		logger, err := NewLogger(true, format)
		require.Nil(t, err)
		require.NotNil(t, logger)

		var _ Logger = logger
	}

	_, err := NewLogger(false, "xml")
	assert.NotNil(t, err)
}
