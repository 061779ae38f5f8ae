// Package config loads scopedemo settings from defaults, an optional config
// file, FLOWSCOPE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/NetPo4ki/go-flowscope/internal/logging"
	"github.com/NetPo4ki/go-flowscope/sched"
)

const EnvPrefix = "FLOWSCOPE"

type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type SchedulerConfig struct {
	// DefaultWorkers sizes the Default pool; 0 means GOMAXPROCS.
	DefaultWorkers int `mapstructure:"default_workers"`
	IOWorkers      int `mapstructure:"io_workers"`
}

type BroadcastConfig struct {
	// GracePeriod is used by the WhileSubscribed demo streams.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus endpoint when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{DefaultWorkers: runtime.GOMAXPROCS(0), IOWorkers: sched.DefaultIOWorkers},
		Broadcast: BroadcastConfig{GracePeriod: 300 * time.Millisecond},
		Log:       LogConfig{Level: logging.LevelInfo, Format: logging.FormatText},
	}
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("scheduler.default_workers", d.Scheduler.DefaultWorkers)
	v.SetDefault("scheduler.io_workers", d.Scheduler.IOWorkers)
	v.SetDefault("broadcast.grace_period", d.Broadcast.GracePeriod)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps each flag named in keys to its config key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("config: unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind %q: %w", flag, err)
		}
	}
	return nil
}

// Load reads path, if given, and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.DefaultWorkers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.default_workers must not be negative, got %d", c.Scheduler.DefaultWorkers))
	}
	if c.Scheduler.IOWorkers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.io_workers must not be negative, got %d", c.Scheduler.IOWorkers))
	}
	if c.Broadcast.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("broadcast.grace_period must not be negative, got %s", c.Broadcast.GracePeriod))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.Log.Format))
	}
	return errors.Join(errs...)
}

// SchedulerOptions converts the scheduler section into sched options.
func (c *Config) SchedulerOptions() []sched.Option {
	var opts []sched.Option
	if c.Scheduler.DefaultWorkers > 0 {
		opts = append(opts, sched.WithDefaultWorkers(c.Scheduler.DefaultWorkers))
	}
	if c.Scheduler.IOWorkers > 0 {
		opts = append(opts, sched.WithIOWorkers(c.Scheduler.IOWorkers))
	}
	return opts
}

func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}
