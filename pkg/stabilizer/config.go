package stabilizer

import (
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
)

const (
	DefaultPollInterval       = time.Second
	DefaultWeightThreshold    = 0.5
	DefaultStabilityEpsilon   = 0.1
	DefaultStabilityThreshold = 3
	DefaultDedupEpsilon       = 0.1
)

// Config denotes the parameters of the stabilization algorithm
type Config struct {

	// PollInterval is the delay between two poll attempts (also after errors)
	PollInterval time.Duration `yaml:"poll_interval"`

	// WeightThreshold (in g): readings at or below are treated as an empty scale
	WeightThreshold float64 `yaml:"weight_threshold"`

	// StabilityEpsilon (in g): consecutive samples closer than this belong to
	// the same plateau
	StabilityEpsilon float64 `yaml:"stability_epsilon"`

	// StabilityThreshold is the number of consecutive same-plateau samples
	// required before a weight is confirmed
	StabilityThreshold int `yaml:"stability_threshold"`

	// DedupEpsilon (in g): minimum change versus the last emitted weight
	// required to emit again
	DedupEpsilon float64 `yaml:"dedup_epsilon"`
}

// DefaultConfig returns the configuration matching the observed device behavior
func DefaultConfig() Config {
	return Config{
		PollInterval:       DefaultPollInterval,
		WeightThreshold:    DefaultWeightThreshold,
		StabilityEpsilon:   DefaultStabilityEpsilon,
		StabilityThreshold: DefaultStabilityThreshold,
		DedupEpsilon:       DefaultDedupEpsilon,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.PollInterval < 0 {
		return scale.NewConfigurationError("poll interval", "must not be negative, got %v", c.PollInterval)
	}
	if c.WeightThreshold < 0 {
		return scale.NewConfigurationError("weight threshold", "must not be negative, got %v", c.WeightThreshold)
	}
	if c.StabilityEpsilon <= 0 {
		return scale.NewConfigurationError("stability epsilon", "must be positive, got %v", c.StabilityEpsilon)
	}
	if c.StabilityThreshold < 1 {
		return scale.NewConfigurationError("stability threshold", "must be at least 1, got %d", c.StabilityThreshold)
	}
	if c.DedupEpsilon < 0 {
		return scale.NewConfigurationError("dedup epsilon", "must not be negative, got %v", c.DedupEpsilon)
	}

	return nil
}
