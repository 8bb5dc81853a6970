package mettler

import (
	"bytes"
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
)

const (
	defaultTimeout = 3 * time.Second

	// cmdWeightImmediately requests the current weight value, irrespective of balance stability
	cmdWeightImmediately = "SI\r\n"

	// respStabilizationError is returned by the device if it could not settle
	respStabilizationError = "ES"

	// maxResponseSize is sufficient for any reply to cmdWeightImmediately
	maxResponseSize = 32
)

// weightRegexp matches fixed-point decimals only, integer replies are not a valid weight
var weightRegexp = regexp.MustCompile(`[-+]?\d+\.\d+`)

var _ scale.Device = (*Mettler)(nil)

// Dialer denotes a provider of network connections (e.g. a net.Dialer)
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Mettler denotes a network attached scale speaking the MT-SICS protocol
type Mettler struct {
	host    string
	port    int
	timeout time.Duration

	dialer Dialer
	logger scale.Logger
}

// New instantiates a new Mettler client, executing functional options, if any
func New(host string, port int, options ...func(*Mettler)) (*Mettler, error) {

	host = strings.TrimSpace(host)
	if host == "" {
		return nil, scale.NewConfigurationError("host", "is required")
	}
	if port <= 0 || port > 65535 {
		return nil, scale.NewConfigurationError("port", "must be in range 1-65535, got %d", port)
	}

	// Initialize a new instance of a Mettler client
	m := &Mettler{
		host:    host,
		port:    port,
		timeout: defaultTimeout,
		dialer:  &net.Dialer{},
		logger:  &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}

	if m.timeout <= 0 {
		return nil, scale.NewConfigurationError("timeout", "must be positive, got %v", m.timeout)
	}

	return m, nil
}

// Addr returns the network address of the scale device
func (m *Mettler) Addr() string {
	return net.JoinHostPort(m.host, strconv.Itoa(m.port))
}

// Timeout returns the overall deadline applied to a single query
func (m *Mettler) Timeout() time.Duration {
	return m.timeout
}

// QueryWeight performs a single round trip to the scale, returning the current
// weight in kilograms. A new connection is established for every call and closed
// before returning, connect, send and receive share one overall deadline
func (m *Mettler) QueryWeight(ctx context.Context) (float64, error) {

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.roundTrip(ctx)
	if err != nil {
		return 0, err
	}

	m.logger.Debugf("raw scale response from %s: %q", m.Addr(), raw)

	return ParseResponse(raw)
}

// ParseResponse decodes a reply to the weight query, yielding the weight in the
// native unit of the device (kilograms)
func ParseResponse(raw string) (float64, error) {

	resp := strings.TrimSpace(raw)
	if resp == respStabilizationError {
		return 0, &scale.DeviceError{Kind: scale.KindUnstable, Raw: resp}
	}

	match := weightRegexp.FindString(resp)
	if match == "" {
		return 0, scale.NewUnparseableError(resp)
	}

	weight, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, &scale.DeviceError{Kind: scale.KindUnparseable, Raw: resp, Err: err}
	}

	return weight, nil
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mettler) roundTrip(ctx context.Context) (string, error) {

	conn, err := m.dialer.DialContext(ctx, "tcp", m.Addr())
	if err != nil {
		return "", scale.NewTransportError(err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Debugf("failed to close connection to %s: %s", m.Addr(), cerr)
		}
	}()

	// Cancellation of the context has to interrupt blocking reads / writes as well
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return "", scale.NewTransportError(err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write([]byte(cmdWeightImmediately)); err != nil {
		return "", scale.NewTransportError(err)
	}

	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = errors.New("empty response")
		}
		return "", scale.NewTransportError(err)
	}

	return string(bytes.ToValidUTF8(buf[:n], nil)), nil
}
