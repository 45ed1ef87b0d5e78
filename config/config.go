// Package config loads the engine configuration from YAML (or JSON, which
// YAML accepts too).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"gopkg.in/yaml.v3"
)

const (
	IDGeneratorUUID  = "uuid"
	IDGeneratorULID  = "ulid"
	IDGeneratorEmpty = "empty"
)

// Config is the engine configuration.
type Config struct {
	Version   int             `json:"version" yaml:"version"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Producers ProducerConfig  `json:"producers" yaml:"producers"`
	Await     AwaitConfig     `json:"await" yaml:"await"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Sentry    SentryConfig    `json:"sentry" yaml:"sentry"`
}

type LoggingConfig struct {
	// Backend is glog, zap or fmt.
	Backend string `json:"backend" yaml:"backend"`
	Level   string `json:"level" yaml:"level"`
	JSON    bool   `json:"json,omitempty" yaml:"json,omitempty"`
}

type ExchangeConfig struct {
	// IDGenerator is uuid, ulid or empty.
	IDGenerator string `json:"id_generator" yaml:"id_generator"`
	// AllowEmptyIDs must be set to use the empty generator.
	AllowEmptyIDs bool `json:"allow_empty_ids,omitempty" yaml:"allow_empty_ids,omitempty"`
	Pooled        bool `json:"pooled,omitempty" yaml:"pooled,omitempty"`
}

type ProducerConfig struct {
	CacheSize int  `json:"cache_size" yaml:"cache_size"`
	Lazy      bool `json:"lazy,omitempty" yaml:"lazy,omitempty"`
}

type AwaitConfig struct {
	ReapInterval time.Duration `json:"reap_interval" yaml:"reap_interval"`
	// Schedule, when set, reaps on this cron expression instead of a ticker.
	Schedule       string        `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	DefaultTimeout time.Duration `json:"default_timeout,omitempty" yaml:"default_timeout,omitempty"`
}

type SchedulerConfig struct {
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	// Parser is default, standard or seconds.
	Parser   string `json:"parser,omitempty" yaml:"parser,omitempty"`
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type SentryConfig struct {
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Release     string `json:"release,omitempty" yaml:"release,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Version: 1,
		Logging: LoggingConfig{
			Backend: "glog",
			Level:   "info",
		},
		Exchange: ExchangeConfig{
			IDGenerator: IDGeneratorUUID,
		},
		Producers: ProducerConfig{
			CacheSize: 1000,
		},
		Await: AwaitConfig{
			ReapInterval: 50 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			Parser:   "default",
			LogLevel: "error",
		},
		Metrics: MetricsConfig{
			Namespace: "exchange",
		},
	}
}

// Parse reads data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, exchange.CloneError(exchange.ErrInvalidConfig, "parse configuration", err, nil)
	}
	return cfg, cfg.Validate()
}

// Load parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), exchange.CloneError(exchange.ErrInvalidConfig, "read configuration", err,
			map[string]any{"path": path})
	}
	return Parse(data)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate reports every problem found, joined into one error.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Logging.Backend) {
	case "glog", "zap", "fmt":
	default:
		add("logging.backend %q must be glog, zap or fmt", c.Logging.Backend)
	}
	switch strings.ToLower(c.Exchange.IDGenerator) {
	case IDGeneratorUUID, IDGeneratorULID:
	case IDGeneratorEmpty:
		if !c.Exchange.AllowEmptyIDs {
			add("exchange.id_generator %q requires exchange.allow_empty_ids", c.Exchange.IDGenerator)
		}
	default:
		add("exchange.id_generator %q must be uuid, ulid or empty", c.Exchange.IDGenerator)
	}
	if c.Producers.CacheSize <= 0 {
		add("producers.cache_size must be positive, got %d", c.Producers.CacheSize)
	}
	if c.Await.ReapInterval <= 0 && c.Await.Schedule == "" {
		add("await.reap_interval must be positive when await.schedule is empty")
	}
	if c.Await.DefaultTimeout < 0 {
		add("await.default_timeout must not be negative")
	}
	switch strings.ToLower(c.Scheduler.Parser) {
	case "", "default", "standard", "seconds":
	default:
		add("scheduler.parser %q must be default, standard or seconds", c.Scheduler.Parser)
	}
	switch strings.ToLower(c.Scheduler.LogLevel) {
	case "", "silent", "error", "info", "debug":
	default:
		add("scheduler.log_level %q must be silent, error, info or debug", c.Scheduler.LogLevel)
	}
	if c.Scheduler.Location != "" {
		if _, err := time.LoadLocation(c.Scheduler.Location); err != nil {
			add("scheduler.location %q: %v", c.Scheduler.Location, err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		add("metrics.namespace is required when metrics are enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.Error()
	}
	return exchange.CloneError(exchange.ErrInvalidConfig,
		fmt.Sprintf("invalid configuration: %d problem(s)", len(problems)),
		errors.Join(problems...),
		map[string]any{"problems": msgs},
	)
}
