package config

import (
	"encoding/json"
	"path/filepath"
	"time"
)

const (
	defaultListen = "127.0.0.1:8080"

	// DefaultReservedLocalName is the name that denotes the running instance.
	// No registered remote instance may use it (case-insensitive).
	DefaultReservedLocalName = "Local"

	// DefaultTimeoutSeconds is used when a caller does not supply a timeout
	// for a token exchange or a delegated fetch.
	DefaultTimeoutSeconds = 10

	// DefaultMaxTimeoutSeconds is the ceiling accepted by the REST and CLI
	// layers for caller-supplied timeouts.
	DefaultMaxTimeoutSeconds = 60
)

// Config represents the main configuration structure
type Config struct {
	Listen            string `json:"listen" mapstructure:"listen"`
	DataDir           string `json:"data_dir" mapstructure:"data_dir"`
	ReservedLocalName string `json:"reserved_local_name" mapstructure:"reserved_local_name"`

	// Timeouts are expressed in whole seconds, like the remote registration form.
	DefaultTimeout int `json:"default_timeout" mapstructure:"default_timeout"`
	MaxTimeout     int `json:"max_timeout" mapstructure:"max_timeout"`

	// APIKey gates the mutating REST routes. Empty disables the check.
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	Observability *ObservabilityConfig `json:"observability,omitempty" mapstructure:"observability"`

	TLS *TLSConfig `json:"tls,omitempty" mapstructure:"tls"`
}

// TLSConfig enables HTTPS with a locally issued certificate
type TLSConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// CertsDir defaults to <data_dir>/certs
	CertsDir string `json:"certs_dir,omitempty" mapstructure:"certs_dir"`
	// Hosts are extra names the certificate is valid for
	Hosts []string `json:"hosts,omitempty" mapstructure:"hosts"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log_dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// ObservabilityConfig toggles metrics and tracing
type ObservabilityConfig struct {
	MetricsEnabled bool           `json:"metrics_enabled" mapstructure:"metrics_enabled"`
	Tracing        *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample_rate"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		DataDir:           "", // Will be set to ~/.fedsearch by loader
		ReservedLocalName: DefaultReservedLocalName,
		DefaultTimeout:    DefaultTimeoutSeconds,
		MaxTimeout:        DefaultMaxTimeoutSeconds,

		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "fedsearch.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,
			MaxAge:        30, // days
			Compress:      true,
			JSONFormat:    false,
		},

		Observability: &ObservabilityConfig{
			MetricsEnabled: true,
			Tracing: &TracingConfig{
				Enabled:      false,
				OTLPEndpoint: "localhost:4318",
				SampleRate:   0.1,
			},
		},

		TLS: &TLSConfig{
			Enabled: false,
		},
	}
}

// DefaultTimeoutDuration returns the default exchange timeout as a duration.
func (c *Config) DefaultTimeoutDuration() time.Duration {
	return time.Duration(c.DefaultTimeout) * time.Second
}

// CertsDirPath returns where TLS material lives
func (c *Config) CertsDirPath() string {
	if c.TLS != nil && c.TLS.CertsDir != "" {
		return c.TLS.CertsDir
	}
	return filepath.Join(c.DataDir, "certs")
}

// MarshalJSON implements json.Marshaler interface. The API key never leaves
// the process through a serialized config.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	clone := *c
	if clone.APIKey != "" {
		clone.APIKey = "***"
	}
	return json.Marshal((*Alias)(&clone))
}
