package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".fedsearch"
	ConfigFileName = "fedsearch.json"
	EnvPrefix      = "FEDSEARCH"
)

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"listen":              "listen",
	"data-dir":            "data_dir",
	"reserved-local-name": "reserved_local_name",
	"log-level":           "logging.level",
	"log-to-file":         "logging.enable_file",
	"log-dir":             "logging.log_dir",
	"api-key":             "api_key",
	"tls":                 "tls.enabled",
}

// Load loads configuration from file, environment and defaults.
// An empty path looks for the config file in the working directory and in
// the default data directory; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load with explicitly set command line flags taking
// precedence over file and environment values.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := readConfigFile(v, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if flags != nil {
		if err := bindChangedFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// newViper configures a viper instance with defaults and environment handling
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Defaults are registered for every key so that AutomaticEnv can
	// override them during Unmarshal.
	def := DefaultConfig()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("reserved_local_name", def.ReservedLocalName)
	v.SetDefault("default_timeout", def.DefaultTimeout)
	v.SetDefault("max_timeout", def.MaxTimeout)
	v.SetDefault("api_key", "")

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.enable_file", def.Logging.EnableFile)
	v.SetDefault("logging.enable_console", def.Logging.EnableConsole)
	v.SetDefault("logging.filename", def.Logging.Filename)
	v.SetDefault("logging.log_dir", def.Logging.LogDir)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.json_format", def.Logging.JSONFormat)

	v.SetDefault("observability.metrics_enabled", def.Observability.MetricsEnabled)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.otlp_endpoint", def.Observability.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.sample_rate", def.Observability.Tracing.SampleRate)

	v.SetDefault("tls.enabled", def.TLS.Enabled)
	v.SetDefault("tls.certs_dir", "")
	v.SetDefault("tls.hosts", []string{})

	return v
}

// findConfigFile tries to find a config file in common locations
func findConfigFile() string {
	locations := []string{
		ConfigFileName,
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// readConfigFile loads a JSON config file into viper
func readConfigFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file (including /dev/null) is treated as no configuration
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// bindChangedFlags binds only the flags the user actually set, so flag
// defaults never shadow values from the config file.
func bindChangedFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, path string) error {
	// Marshal through an alias so the API key is written as configured
	type Alias Config
	data, err := json.MarshalIndent((*Alias)(cfg), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file in the data directory
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	return filepath.Join(dataDir, ConfigFileName)
}
