// Package config loads hpoprun settings from defaults, a YAML file,
// HPOPRUN_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "HPOPRUN"

// ErrInvalid wraps configuration validation failures
var ErrInvalid = errors.New("invalid configuration")

// DefaultArgs is the scene the propagator is driven with when nothing
// else is configured. In YAML, args may be written unquoted; floats keep
// their decimal point (7000.0), but quote values that must stay verbatim
// such as 1e3 or 07.
var DefaultArgs = []string{"scene_edit", "Walker", "7000.0", "0.001", "53", "0", "0", "0", "3", "4", "1"}

// Config is the effective configuration
type Config struct {
	Executable        string              `mapstructure:"executable" yaml:"executable" json:"executable"`
	Args              []string            `mapstructure:"args" yaml:"args" json:"args"`
	Profile           string              `mapstructure:"profile" yaml:"profile,omitempty" json:"profile,omitempty"`
	Profiles          map[string][]string `mapstructure:"profiles" yaml:"profiles,omitempty" json:"profiles,omitempty"`
	WorkDir           string              `mapstructure:"workdir" yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Env               []string            `mapstructure:"env" yaml:"env,omitempty" json:"env,omitempty"`
	Timeout           time.Duration       `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	PropagateExitCode bool                `mapstructure:"propagate_exit_code" yaml:"propagate_exit_code" json:"propagate_exit_code"`
	SampleInterval    time.Duration       `mapstructure:"sample_interval" yaml:"sample_interval" json:"sample_interval"`

	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Serve   ServeConfig   `mapstructure:"serve" yaml:"serve" json:"serve"`
}

// LogConfig controls diagnostics written to stderr
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"` // text or json
	File   string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// HistoryConfig selects where run results are kept.
// Empty DSN disables history for the CLI and keeps it in memory for serve.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// MetricsConfig controls the node_exporter textfile
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty" json:"textfile,omitempty"`
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// ServeConfig controls the HTTP surface
type ServeConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	APIKeyHash      string        `mapstructure:"api_key_hash" yaml:"api_key_hash,omitempty" json:"-"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst" json:"rate_limit_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// HTTPS. TLSSelfSigned creates the pair under $HOME/.hpoprun/tls when
	// TLSCert/TLSKey are empty. TLSClientCA turns on mutual TLS.
	TLSCert       string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty" json:"tls_cert,omitempty"`
	TLSKey        string `mapstructure:"tls_key" yaml:"tls_key,omitempty" json:"tls_key,omitempty"`
	TLSClientCA   string `mapstructure:"tls_client_ca" yaml:"tls_client_ca,omitempty" json:"tls_client_ca,omitempty"`
	TLSSelfSigned bool   `mapstructure:"tls_self_signed" yaml:"tls_self_signed" json:"tls_self_signed"`
}

// TLSEnabled reports whether serve listens with HTTPS
func (s ServeConfig) TLSEnabled() bool {
	return s.TLSSelfSigned || s.TLSCert != ""
}

// Default returns the built-in configuration
func Default() Config {
	args := make([]string, len(DefaultArgs))
	copy(args, DefaultArgs)

	return Config{
		Executable:        "./build/hpop_executable",
		Args:              args,
		PropagateExitCode: true,
		SampleInterval:    500 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "hpoprun",
			Environment: "development",
		},
		Serve: ServeConfig{
			Addr:            ":8090",
			RateLimitRPS:    2,
			RateLimitBurst:  4,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// SetDefaults registers every key with viper so environment overrides
// reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("executable", d.Executable)
	v.SetDefault("args", d.Args)
	v.SetDefault("profile", "")
	v.SetDefault("profiles", map[string][]string{})
	v.SetDefault("workdir", "")
	v.SetDefault("env", []string{})
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("propagate_exit_code", d.PropagateExitCode)
	v.SetDefault("sample_interval", d.SampleInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("serve.api_key_hash", "")
	v.SetDefault("serve.rate_limit_rps", d.Serve.RateLimitRPS)
	v.SetDefault("serve.rate_limit_burst", d.Serve.RateLimitBurst)
	v.SetDefault("serve.shutdown_timeout", d.Serve.ShutdownTimeout)
	v.SetDefault("serve.tls_cert", "")
	v.SetDefault("serve.tls_key", "")
	v.SetDefault("serve.tls_client_ca", "")
	v.SetDefault("serve.tls_self_signed", false)
}

// NewViper returns a viper instance wired for hpoprun
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FindConfigFile returns the first existing candidate:
// $HOME/.hpoprun/config.yaml, then ./hpoprun.yaml. Empty if none exist.
func FindConfigFile(home, cwd string) string {
	var candidates []string
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".hpoprun", "config.yaml"))
	}
	if cwd != "" {
		candidates = append(candidates, filepath.Join(cwd, "hpoprun.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// ReadFile loads path into v. An explicitly named file must exist.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// Load unmarshals and validates the effective configuration
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		floatToStringHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// floatToStringHook keeps unquoted YAML floats such as `7000.0` intact when
// they land in string fields like args. Plain decoding would pass "7000".
func floatToStringHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to.Kind() != reflect.String {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Float32, reflect.Float64:
			s := strconv.FormatFloat(reflect.ValueOf(data).Float(), 'f', -1, 64)
			if !strings.Contains(s, ".") {
				s += ".0"
			}
			return s, nil
		}
		return data, nil
	}
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	var problems []string

	if c.Timeout < 0 {
		problems = append(problems, "timeout must be >= 0")
	}
	if c.SampleInterval < 0 {
		problems = append(problems, "sample_interval must be >= 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Profile != "" {
		if _, ok := c.lookupProfile(c.Profile); !ok {
			problems = append(problems, fmt.Sprintf("profile %q is not defined (have: %s)", c.Profile, strings.Join(c.ProfileNames(), ", ")))
		}
	}
	if c.Serve.RateLimitRPS < 0 || c.Serve.RateLimitBurst < 0 {
		problems = append(problems, "serve rate limits must be >= 0")
	}
	if (c.Serve.TLSCert == "") != (c.Serve.TLSKey == "") {
		problems = append(problems, "serve.tls_cert and serve.tls_key must be set together")
	}
	if c.Serve.TLSClientCA != "" && !c.Serve.TLSEnabled() {
		problems = append(problems, "serve.tls_client_ca needs a certificate")
	}
	for _, kv := range c.Env {
		if !strings.Contains(kv, "=") {
			problems = append(problems, fmt.Sprintf("env entry %q is not KEY=VALUE", kv))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ProfileNames lists configured profiles, sorted
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile names are case-insensitive; viper lowercases map keys.
func (c *Config) lookupProfile(name string) ([]string, bool) {
	args, ok := c.Profiles[strings.ToLower(name)]
	return args, ok
}

// LaunchArgs picks the argument vector for a run. Explicit args win, then
// the named profile (or the configured default profile), then Args.
func (c *Config) LaunchArgs(profile string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if profile == "" {
		profile = c.Profile
	}
	if profile != "" {
		args, ok := c.lookupProfile(profile)
		if !ok {
			return nil, fmt.Errorf("%w: profile %q is not defined", ErrInvalid, profile)
		}
		return args, nil
	}
	return c.Args, nil
}
