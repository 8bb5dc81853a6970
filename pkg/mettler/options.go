package mettler

import (
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
)

// WithTimeout sets the overall deadline for connect + send + receive
func WithTimeout(timeout time.Duration) func(*Mettler) {
	return func(m *Mettler) {
		m.timeout = timeout
	}
}

// WithDialer sets the dialer used to establish connections to the scale
func WithDialer(dialer Dialer) func(*Mettler) {
	return func(m *Mettler) {
		m.dialer = dialer
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Mettler) {
	return func(m *Mettler) {
		m.logger = logger
	}
}
