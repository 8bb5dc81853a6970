// Package mqtt publishes stable weights as JSON messages to an MQTT broker
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
)

const (
	// Name denotes the name of the sink
	Name = "mqtt"

	defaultClientID       = "scalebridge"
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	disconnectGracePeriod = 250 // ms

	retryInterval        = 2 * time.Second
	maxReconnectInterval = 30 * time.Second
)

// ErrNotConnected denotes a publish attempt without a broker connection
var ErrNotConnected = errors.New("mqtt not connected")

// Config denotes the broker and topic to publish to
type Config struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	QoS      byte          `yaml:"qos"`
	Retained bool          `yaml:"retained"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Validate checks that all required fields are present
func (c Config) Validate() error {
	if c.Broker == "" {
		return scale.NewConfigurationError("MQTT_BROKER", "is required")
	}
	if c.Topic == "" {
		return scale.NewConfigurationError("MQTT_TOPIC", "is required")
	}
	if strings.ContainsAny(c.Topic, "+#") {
		return scale.NewConfigurationError("MQTT_TOPIC", "must not contain wildcards, got %q", c.Topic)
	}
	if c.QoS > 2 {
		return scale.NewConfigurationError("MQTT_QOS", "must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.Timeout < 0 {
		return scale.NewConfigurationError("MQTT_TIMEOUT", "must not be negative")
	}
	return nil
}

// Client denotes the subset of the paho client used by the sink
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTT denotes a sink publishing each event to a fixed topic
type MQTT struct {
	cfg    Config
	client Client

	logger scale.Logger
}

// New instantiates a new MQTT sink, executing functional options, if any. The
// broker connection is established by Connect()
func New(cfg Config, options ...func(*MQTT)) (*MQTT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultPublishTimeout
	}

	m := &MQTT{
		cfg:    cfg,
		logger: &scale.NullLogger{},
	}
	for _, option := range options {
		option(m)
	}

	if m.client == nil {
		m.client = paho.NewClient(m.clientOptions())
	}

	return m, nil
}

// WithClient sets a custom MQTT client
func WithClient(client Client) func(*MQTT) {
	return func(m *MQTT) {
		m.client = client
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*MQTT) {
	return func(m *MQTT) {
		m.logger = logger
	}
}

// Name returns the name of the sink
func (m *MQTT) Name() string {
	return Name
}

// Connect establishes the broker connection
func (m *MQTT) Connect(ctx context.Context) error {

	m.logger.Infof("connecting to mqtt broker %s", m.cfg.Broker)

	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	if err := wait(ctx, m.client.Connect(), timeout); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	return nil
}

// Accept publishes the event
func (m *MQTT) Accept(ctx context.Context, event scale.StableWeight) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(sink.NewPayload(event))
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	if err := wait(ctx, m.client.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retained, payload), m.cfg.Timeout); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	m.logger.Debugf("published %d bytes to %s (qos %d)", len(payload), m.cfg.Topic, m.cfg.QoS)

	return nil
}

// Close terminates the broker connection
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(disconnectGracePeriod)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (m *MQTT) clientOptions() *paho.ClientOptions {
	broker := m.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryInterval)
	opts.SetMaxReconnectInterval(maxReconnectInterval)

	opts.OnConnect = func(_ paho.Client) {
		m.logger.Infof("mqtt connection to %s established", broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		m.logger.Warnf("mqtt connection lost, will auto-reconnect: %s", err)
	}

	return opts
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
