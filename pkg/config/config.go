// Package config assembles the runtime configuration of the bridge from an
// optional YAML file, an optional .env file and the process environment (in
// increasing order of precedence)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink/arkite"
	"github.com/fako1024/scalebridge/pkg/sink/azumuta"
	"github.com/fako1024/scalebridge/pkg/sink/mqtt"
	"github.com/fako1024/scalebridge/pkg/sink/tulip"
	"github.com/fako1024/scalebridge/pkg/stabilizer"
)

const (
	// EnvConfigFile denotes the variable naming a YAML configuration file
	EnvConfigFile = "SCALEBRIDGE_CONFIG"

	defaultScaleTimeout = 3 * time.Second
	defaultAPIAddr      = ":8080"
	defaultEnvFile      = ".env"
)

// Scale denotes the network location of the weighing device
type Scale struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// Sinks denotes the configuration of all downstream integrations. An
// integration is enabled as soon as any of its fields is set
type Sinks struct {
	Arkite  arkite.Config  `yaml:"arkite"`
	Azumuta azumuta.Config `yaml:"azumuta"`
	Tulip   tulip.Config   `yaml:"tulip"`
	MQTT    mqtt.Config    `yaml:"mqtt"`
}

// Config denotes the full runtime configuration
type Config struct {
	Scale      Scale             `yaml:"scale"`
	Stabilizer stabilizer.Config `yaml:"stabilizer"`
	Sinks      Sinks             `yaml:"sinks"`

	MockMode  bool            `yaml:"mock_mode"`
	Debug     bool            `yaml:"debug"`
	LogFormat scale.LogFormat `yaml:"log_format"`
	APIAddr   string          `yaml:"api_addr"`
}

// Default returns the configuration used in the absence of any settings
func Default() Config {
	return Config{
		Scale: Scale{
			Timeout: defaultScaleTimeout,
		},
		Stabilizer: stabilizer.DefaultConfig(),
		Sinks: Sinks{
			Arkite: arkite.Config{
				Insecure: true,
			},
		},
		LogFormat: scale.LogFormatConsole,
		APIAddr:   defaultAPIAddr,
	}
}

// Load reads the configuration. If path is empty, the file named by
// SCALEBRIDGE_CONFIG is used, if any. A .env file in the working directory
// is loaded into the environment if present
func Load(path string) (Config, error) {
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", defaultEnvFile, err)
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigFile))
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if !c.MockMode || c.Scale.Host != "" {
		if c.Scale.Host == "" {
			return scale.NewConfigurationError("SCALE_HOST", "is required")
		}
		if c.Scale.Port < 1 || c.Scale.Port > 65535 {
			return scale.NewConfigurationError("SCALE_PORT", "must be within 1-65535, got %d", c.Scale.Port)
		}
	}
	if c.Scale.Timeout <= 0 {
		return scale.NewConfigurationError("SCALE_TIMEOUT", "must be positive, got %v", c.Scale.Timeout)
	}
	if err := c.Stabilizer.Validate(); err != nil {
		return err
	}
	switch c.LogFormat {
	case scale.LogFormatConsole, scale.LogFormatJSON:
	default:
		return scale.NewConfigurationError("LOG_FORMAT", "unsupported format %q", c.LogFormat)
	}

	if c.Sinks.ArkiteEnabled() {
		if err := c.Sinks.Arkite.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.AzumutaEnabled() {
		if err := c.Sinks.Azumuta.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.TulipEnabled() {
		if err := c.Sinks.Tulip.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.MQTTEnabled() {
		if err := c.Sinks.MQTT.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ArkiteEnabled returns if any Arkite parameter was provided
func (s Sinks) ArkiteEnabled() bool {
	return s.Arkite.BaseURL != "" || s.Arkite.APIKey != "" || s.Arkite.ProjectID != "" || s.Arkite.VariableID != ""
}

// AzumutaEnabled returns if any Azumuta parameter was provided
func (s Sinks) AzumutaEnabled() bool {
	return s.Azumuta.APIKey != "" || s.Azumuta.WorkInstructionID != "" || s.Azumuta.StepUUID != ""
}

// TulipEnabled returns if any Tulip parameter was provided
func (s Sinks) TulipEnabled() bool {
	return s.Tulip.TableURL != "" || s.Tulip.APIKey != "" || s.Tulip.APISecret != ""
}

// MQTTEnabled returns if any MQTT parameter was provided
func (s Sinks) MQTTEnabled() bool {
	return s.MQTT.Broker != "" || s.MQTT.Topic != ""
}

// Enabled returns the names of all enabled sinks
func (s Sinks) Enabled() []string {
	var names []string
	if s.ArkiteEnabled() {
		names = append(names, arkite.Name)
	}
	if s.AzumutaEnabled() {
		names = append(names, azumuta.Name)
	}
	if s.TulipEnabled() {
		names = append(names, tulip.Name)
	}
	if s.MQTTEnabled() {
		names = append(names, mqtt.Name)
	}
	return names
}

// ParseDuration parses either a Go duration ("1.5s", "250ms") or a plain
// number of seconds ("1.0")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

////////////////////////////////////////////////////////////////////////////////

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	if root.Kind == 0 {
		return nil
	}

	if err := normalizeDurations(&root); err != nil {
		return fmt.Errorf("invalid configuration file %s: %w", path, err)
	}
	if err := root.Decode(c); err != nil {
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	return nil
}

// durationKeys lists the YAML keys holding a time.Duration
var durationKeys = map[string]struct{}{
	"timeout":       {},
	"poll_interval": {},
}

// normalizeDurations rewrites all duration values in place to Go duration
// syntax, so plain seconds are accepted like in the environment
func normalizeDurations(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if _, ok := durationKeys[key.Value]; ok && val.Kind == yaml.ScalarNode {
				d, err := ParseDuration(val.Value)
				if err != nil {
					return scale.NewConfigurationError(key.Value, "invalid duration %q (line %d): %s", val.Value, val.Line, err)
				}
				val.Tag, val.Value = "!!str", d.String()
			}
		}
	}

	for _, child := range node.Content {
		if err := normalizeDurations(child); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	e := env{lookup: lookup}

	e.str("SCALE_HOST", &c.Scale.Host)
	e.integer("SCALE_PORT", &c.Scale.Port)
	e.duration("SCALE_TIMEOUT", &c.Scale.Timeout)

	e.duration("POLL_INTERVAL", &c.Stabilizer.PollInterval)
	e.float("WEIGHT_THRESHOLD", &c.Stabilizer.WeightThreshold)
	e.float("STABILITY_EPSILON", &c.Stabilizer.StabilityEpsilon)
	e.integer("STABILITY_COUNT", &c.Stabilizer.StabilityThreshold)
	e.float("DEDUP_EPSILON", &c.Stabilizer.DedupEpsilon)

	e.boolean("MOCK_MODE", &c.MockMode)
	e.boolean("DEBUG", &c.Debug)
	e.str("API_ADDR", &c.APIAddr)
	var format string
	if e.str("LOG_FORMAT", &format) {
		c.LogFormat = scale.LogFormat(strings.ToLower(format))
	}

	e.str("ARKITE_API_URL", &c.Sinks.Arkite.BaseURL)
	e.str("ARKITE_API_KEY", &c.Sinks.Arkite.APIKey)
	e.str("ARKITE_PROJECT_ID", &c.Sinks.Arkite.ProjectID)
	e.str("ARKITE_VARIABLE_ID", &c.Sinks.Arkite.VariableID)
	e.boolean("ARKITE_INSECURE", &c.Sinks.Arkite.Insecure)
	e.duration("ARKITE_TIMEOUT", &c.Sinks.Arkite.Timeout)

	e.str("AZUMUTA_API_URL", &c.Sinks.Azumuta.BaseURL)
	e.str("AZUMUTA_API_KEY", &c.Sinks.Azumuta.APIKey)
	e.str("AZUMUTA_WORKINSTRUCTION_ID", &c.Sinks.Azumuta.WorkInstructionID)
	e.str("AZUMUTA_STEP_UUID", &c.Sinks.Azumuta.StepUUID)
	e.str("AZUMUTA_LANGUAGE", &c.Sinks.Azumuta.Language)
	e.duration("AZUMUTA_TIMEOUT", &c.Sinks.Azumuta.Timeout)

	e.str("TULIP_TABLE_URL", &c.Sinks.Tulip.TableURL)
	e.str("TULIP_API_KEY", &c.Sinks.Tulip.APIKey)
	e.str("TULIP_API_SECRET", &c.Sinks.Tulip.APISecret)
	e.str("TULIP_FIELD", &c.Sinks.Tulip.Field)
	e.duration("TULIP_TIMEOUT", &c.Sinks.Tulip.Timeout)

	e.str("MQTT_BROKER", &c.Sinks.MQTT.Broker)
	e.str("MQTT_TOPIC", &c.Sinks.MQTT.Topic)
	e.str("MQTT_CLIENT_ID", &c.Sinks.MQTT.ClientID)
	var qos int
	if e.integer("MQTT_QOS", &qos) {
		if qos < 0 || qos > 2 {
			e.fail("MQTT_QOS", fmt.Errorf("must be 0, 1 or 2, got %d", qos))
		} else {
			c.Sinks.MQTT.QoS = byte(qos)
		}
	}
	e.boolean("MQTT_RETAINED", &c.Sinks.MQTT.Retained)

	return e.err
}

// env collects typed values from the environment, retaining the first error
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	val, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = scale.NewConfigurationError(key, "%s", err)
	}
}

func (e *env) str(key string, target *string) bool {
	val, ok := e.get(key)
	if ok {
		*target = val
	}
	return ok
}

func (e *env) integer(key string, target *int) bool {
	val, ok := e.get(key)
	if !ok {
		return false
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.fail(key, err)
		return false
	}
	*target = i
	return true
}

func (e *env) float(key string, target *float64) bool {
	val, ok := e.get(key)
	if !ok {
		return false
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(key, err)
		return false
	}
	*target = f
	return true
}

func (e *env) boolean(key string, target *bool) bool {
	val, ok := e.get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(key, err)
		return false
	}
	*target = b
	return true
}

func (e *env) duration(key string, target *time.Duration) bool {
	val, ok := e.get(key)
	if !ok {
		return false
	}
	d, err := ParseDuration(val)
	if err != nil {
		e.fail(key, err)
		return false
	}
	*target = d
	return true
}
