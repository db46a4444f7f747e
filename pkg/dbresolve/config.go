package dbresolve

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/jobtracing/dbresolve/internal/output"
	"github.com/jobtracing/dbresolve/internal/state"
	"github.com/jobtracing/dbresolve/internal/uri"
)

// Environment variables read by ApplyEnv.
const (
	EnvURI         = "MONGO_URI"
	EnvURIAlt      = "MONGODB_URI"
	EnvRetries     = "RETRY_ATTEMPTS"
	EnvRetryDelay  = "RETRY_DELAY"
	EnvTimeout     = "PROBE_TIMEOUT"
	EnvHostAliases = "HOST_ALIASES"
	EnvCI          = "CI"
)

// Config holds all resolver configuration.
type Config struct {
	// Connection string to resolve
	URI string `json:"uri" yaml:"uri"`

	// Alternate host names, tried in order
	Aliases []string `json:"aliases" yaml:"aliases"`

	// Per-attempt timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Maximum probes per pass (0 = every candidate)
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Bound on the whole resolution, retries included (0 = none)
	Deadline time.Duration `json:"deadline" yaml:"deadline"`

	// Whole-pass retries
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Probe credential variants even after the host failed to resolve
	DisablePruning bool `json:"disable_pruning" yaml:"disable_pruning"`

	// Probe pacing
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Output configuration
	Output output.Config `json:"output" yaml:"output"`

	// Resolution history
	History HistoryConfig `json:"history" yaml:"history"`

	// Metrics export
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Exit successfully even when no candidate connects
	Lenient bool `json:"lenient" yaml:"lenient"`

	// Show a progress line while probing
	Progress bool `json:"progress" yaml:"progress"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// RetryConfig repeats exhausted passes.
type RetryConfig struct {
	Attempts int           `json:"attempts" yaml:"attempts"`
	Delay    time.Duration `json:"delay" yaml:"delay"`
}

// RateLimitConfig paces probes. ProbesPerSecond <= 0 disables pacing.
type RateLimitConfig struct {
	ProbesPerSecond float64       `json:"probes_per_second" yaml:"probes_per_second"`
	Burst           int           `json:"burst" yaml:"burst"`
	HostDelay       time.Duration `json:"host_delay" yaml:"host_delay"`
}

// HistoryConfig controls the report history store.
type HistoryConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Backend    string `json:"backend,omitempty" yaml:"backend,omitempty"` // bolt (default), json, gzip or memory
	Path       string `json:"path" yaml:"path"`
	MaxEntries int    `json:"max_entries" yaml:"max_entries"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	// Prometheus textfile written after each resolution
	TextfilePath string `json:"textfile_path,omitempty" yaml:"textfile_path,omitempty"`
}

// DefaultHistoryPath is where history lives unless configured.
const DefaultHistoryPath = ".dbresolve/history.db"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 5 * time.Second,
		Retry: RetryConfig{
			Attempts: 1,
			Delay:    2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			ProbesPerSecond: 0,
			Burst:           1,
		},
		Output: output.Config{
			Format: output.FormatText,
			Pretty: true,
		},
		History: HistoryConfig{
			Enabled:    false,
			Path:       DefaultHistoryPath,
			MaxEntries: state.DefaultMaxEntries,
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return fmt.Errorf("connection uri is required (set %s or pass it as an argument)", EnvURI)
	}
	if _, err := uri.Parse(c.URI); err != nil {
		return err
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}

	if c.Deadline < 0 {
		return fmt.Errorf("deadline must not be negative")
	}

	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}

	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}

	if c.RateLimit.ProbesPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Output.Format != "" && !output.ValidFormat(c.Output.Format) {
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}

	if !state.ValidBackend(c.History.Backend) {
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	if c.History.Enabled && c.History.Path == "" && c.History.Backend != state.BackendMemory {
		return fmt.Errorf("history path is required when history is enabled")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() error {
	return c.ApplyEnvFrom(os.Getenv)
}

// ApplyEnvFrom overrides fields from getenv. Unset or empty variables
// leave the field alone; malformed numbers are errors.
func (c *Config) ApplyEnvFrom(getenv func(string) string) error {
	if v := getenv(EnvURI); v != "" {
		c.URI = v
	} else if v := getenv(EnvURIAlt); v != "" {
		c.URI = v
	}

	if v := getenv(EnvRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s %q: want a positive integer", EnvRetries, v)
		}
		c.Retry.Attempts = n
	}

	if v := getenv(EnvRetryDelay); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetryDelay, err)
		}
		c.Retry.Delay = d
	}

	if v := getenv(EnvTimeout); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}

	if v := getenv(EnvHostAliases); v != "" {
		c.Aliases = splitList(v)
	}

	if v := getenv(EnvCI); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		c.Lenient = true
	}

	return nil
}

// LoadEnvFile reads KEY=VALUE pairs from a dotenv-style file.
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
		KeyValueDelimiters:      "=",
	}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return f.Section(ini.DefaultSection).KeysHash(), nil
}

// ApplyEnvFile applies a dotenv file under the process environment: a
// variable set in the environment wins over the file.
func (c *Config) ApplyEnvFile(path string) error {
	values, err := LoadEnvFile(path)
	if err != nil {
		return err
	}
	return c.ApplyEnvFrom(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return values[key]
	})
}

func parseMillis(v string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative number of milliseconds", v)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
