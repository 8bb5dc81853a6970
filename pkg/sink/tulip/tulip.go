// Package tulip stores stable weights as records of a Tulip table
package tulip

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
	"github.com/google/uuid"
)

const (
	// Name denotes the name of the sink
	Name = "tulip"

	defaultTimeout = 10 * time.Second
)

// Config denotes the table and credentials to write records with
type Config struct {
	TableURL  string        `yaml:"table_url"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Field     string        `yaml:"field"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate checks that all required fields are present
func (c Config) Validate() error {
	if c.TableURL == "" {
		return scale.NewConfigurationError("TULIP_TABLE_URL", "is required")
	}
	if _, err := url.ParseRequestURI(c.TableURL); err != nil {
		return scale.NewConfigurationError("TULIP_TABLE_URL", "invalid url: %s", err)
	}
	if c.APIKey == "" || c.APISecret == "" {
		return scale.NewConfigurationError("TULIP_API_KEY", "key and secret are required")
	}
	if c.Field == "" {
		return scale.NewConfigurationError("TULIP_FIELD", "is required")
	}
	if c.Timeout < 0 {
		return scale.NewConfigurationError("TULIP_TIMEOUT", "must not be negative")
	}
	return nil
}

// Tulip denotes a sink creating one table record per stable weight
type Tulip struct {
	cfg    Config
	client *http.Client
	auth   string

	newID func() string

	logger scale.Logger
}

// New instantiates a new Tulip sink, executing functional options, if any
func New(cfg Config, options ...func(*Tulip)) (*Tulip, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	t := &Tulip{
		cfg:    cfg,
		auth:   "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey+":"+cfg.APISecret)),
		newID:  uuid.NewString,
		logger: &scale.NullLogger{},
	}
	for _, option := range options {
		option(t)
	}

	if t.client == nil {
		t.client = sink.NewHTTPClient(cfg.Timeout, false)
	}

	return t, nil
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) func(*Tulip) {
	return func(t *Tulip) {
		t.client = client
	}
}

// WithIDGenerator sets the function generating record ids
func WithIDGenerator(fn func() string) func(*Tulip) {
	return func(t *Tulip) {
		t.newID = fn
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Tulip) {
	return func(t *Tulip) {
		t.logger = logger
	}
}

// Name returns the name of the sink
func (t *Tulip) Name() string {
	return Name
}

// Accept creates a new record holding the weight in grams
func (t *Tulip) Accept(ctx context.Context, event scale.StableWeight) error {

	id := t.newID()
	record := map[string]interface{}{
		"id":        id,
		t.cfg.Field: event.Weight,
	}

	header := http.Header{}
	header.Set("Authorization", t.auth)

	t.logger.Debugf("creating record %s in %s", id, t.cfg.TableURL)
	_, err := sink.SendJSON(ctx, t.client, sink.Request{
		Method:  http.MethodPost,
		URL:     t.cfg.TableURL,
		Header:  header,
		Payload: record,
	})
	return err
}
