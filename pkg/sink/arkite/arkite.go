// Package arkite publishes stable weights to an Arkite project variable
package arkite

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
)

const (
	// Name denotes the name of the sink
	Name = "arkite"

	defaultTimeout = 10 * time.Second
)

// Config denotes the connection parameters of an Arkite server
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	ProjectID  string        `yaml:"project_id"`
	VariableID string        `yaml:"variable_id"`
	Insecure   bool          `yaml:"insecure"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Validate checks that all required fields are present
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return scale.NewConfigurationError("ARKITE_API_URL", "is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return scale.NewConfigurationError("ARKITE_API_URL", "invalid url: %s", err)
	}
	if c.APIKey == "" {
		return scale.NewConfigurationError("ARKITE_API_KEY", "is required")
	}
	if c.ProjectID == "" {
		return scale.NewConfigurationError("ARKITE_PROJECT_ID", "is required")
	}
	if c.VariableID == "" {
		return scale.NewConfigurationError("ARKITE_VARIABLE_ID", "is required")
	}
	if c.Timeout < 0 {
		return scale.NewConfigurationError("ARKITE_TIMEOUT", "must not be negative")
	}
	return nil
}

// Arkite denotes a sink setting the default state of an Arkite variable
type Arkite struct {
	cfg    Config
	client *http.Client

	logger scale.Logger
}

type request struct {
	DefaultState string `json:"DefaultState"`
}

// New instantiates a new Arkite sink, executing functional options, if any
func New(cfg Config, options ...func(*Arkite)) (*Arkite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	a := &Arkite{
		cfg:    cfg,
		logger: &scale.NullLogger{},
	}
	for _, option := range options {
		option(a)
	}

	if a.client == nil {
		a.client = sink.NewHTTPClient(cfg.Timeout, cfg.Insecure)
	}

	return a, nil
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) func(*Arkite) {
	return func(a *Arkite) {
		a.client = client
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Arkite) {
	return func(a *Arkite) {
		a.logger = logger
	}
}

// Name returns the name of the sink
func (a *Arkite) Name() string {
	return Name
}

// Accept sets the variable's default state to the formatted weight
func (a *Arkite) Accept(ctx context.Context, event scale.StableWeight) error {

	payload := request{
		DefaultState: scale.FormatWeight(event.Weight),
	}
	a.logger.Debugf("sending PATCH request to %s with payload %+v", a.endpoint(false), payload)

	_, err := sink.SendJSON(ctx, a.client, sink.Request{
		Method:  http.MethodPatch,
		URL:     a.endpoint(true),
		Payload: payload,
		Accept:  sink.StatusIs(http.StatusNoContent),
	})
	return err
}

////////////////////////////////////////////////////////////////////////////////

// endpoint builds the variable URL, redacting the API key unless requested
func (a *Arkite) endpoint(withKey bool) string {
	key := "***"
	if withKey {
		key = a.cfg.APIKey
	}

	return strings.TrimRight(a.cfg.BaseURL, "/") +
		"/api/v1/projects/" + url.PathEscape(a.cfg.ProjectID) +
		"/variables/" + url.PathEscape(a.cfg.VariableID) +
		"?" + url.Values{"apiKey": []string{key}}.Encode()
}
