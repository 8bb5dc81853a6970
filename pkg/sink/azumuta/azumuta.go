// Package azumuta records stable weights in the description of an Azumuta
// work instruction step
package azumuta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
)

const (
	// Name denotes the name of the sink
	Name = "azumuta"

	// DefaultURL denotes the public Azumuta API endpoint
	DefaultURL = "https://app.azumuta.com"

	defaultTimeout  = 10 * time.Second
	defaultLanguage = "en"
)

// Config denotes the parameters of the work instruction step to update
type Config struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	WorkInstructionID string        `yaml:"workinstruction_id"`
	StepUUID          string        `yaml:"step_uuid"`
	Language          string        `yaml:"language"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Validate checks that all required fields are present
func (c Config) Validate() error {
	if c.APIKey == "" {
		return scale.NewConfigurationError("AZUMUTA_API_KEY", "is required")
	}
	if c.WorkInstructionID == "" {
		return scale.NewConfigurationError("AZUMUTA_WORKINSTRUCTION_ID", "is required")
	}
	if c.StepUUID == "" {
		return scale.NewConfigurationError("AZUMUTA_STEP_UUID", "is required")
	}
	if c.Timeout < 0 {
		return scale.NewConfigurationError("AZUMUTA_TIMEOUT", "must not be negative")
	}
	return nil
}

// Azumuta denotes a sink updating a work instruction step
type Azumuta struct {
	cfg    Config
	client *http.Client

	logger scale.Logger
}

type request struct {
	Description map[string]string `json:"description"`
}

// New instantiates a new Azumuta sink, executing functional options, if any
func New(cfg Config, options ...func(*Azumuta)) (*Azumuta, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	a := &Azumuta{
		cfg:    cfg,
		logger: &scale.NullLogger{},
	}
	for _, option := range options {
		option(a)
	}

	if a.client == nil {
		a.client = sink.NewHTTPClient(cfg.Timeout, false)
	}

	return a, nil
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) func(*Azumuta) {
	return func(a *Azumuta) {
		a.client = client
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Azumuta) {
	return func(a *Azumuta) {
		a.logger = logger
	}
}

// Name returns the name of the sink
func (a *Azumuta) Name() string {
	return Name
}

// Accept replaces the step description with the recorded weight
func (a *Azumuta) Accept(ctx context.Context, event scale.StableWeight) error {

	header := http.Header{}
	header.Set("X-API-Key", a.cfg.APIKey)

	endpoint := a.endpoint()
	a.logger.Debugf("sending POST request to %s", endpoint)

	_, err := sink.SendJSON(ctx, a.client, sink.Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Header:  header,
		Payload: Description(a.cfg.Language, event.Weight),
		Accept:  sink.StatusIs(http.StatusOK),
	})
	return err
}

// Description builds the step update for a weight in grams
func Description(lang string, weight float64) interface{} {
	return request{
		Description: map[string]string{
			lang: fmt.Sprintf("Weight recorded: %s g", scale.FormatWeight(weight)),
		},
	}
}

////////////////////////////////////////////////////////////////////////////////

func (a *Azumuta) endpoint() string {
	return strings.TrimRight(a.cfg.BaseURL, "/") +
		"/api/v1/workinstructions/" + url.PathEscape(a.cfg.WorkInstructionID) +
		"/steps/" + url.PathEscape(a.cfg.StepUUID)
}
