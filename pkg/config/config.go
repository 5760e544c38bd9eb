package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the broker's configuration.
//
// This structure captures the static configuration recognized by the
// document-broker core: per-document timers and limits, network timeouts,
// watermarking, feature locking, quarantine handling, storage-host quirks,
// plus the ambient logging/metrics stack.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BROKER_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for every broker to drain
	// gracefully when the process receives a shutdown signal.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Admission contains the HTTP admission-surface configuration (pkg/wsdhttp).
	Admission AdmissionConfig `mapstructure:"admission" yaml:"admission"`

	// Kit contains the rendering-engine process launch configuration.
	Kit KitConfig `mapstructure:"kit" yaml:"kit"`

	// PerDocument contains the per-document timers and limits from spec §6.
	PerDocument PerDocumentConfig `mapstructure:"per_document" yaml:"per_document"`

	// Net contains network-facing timeouts.
	Net NetConfig `mapstructure:"net" yaml:"net"`

	// ServersideConfig controls discard of unused per-host configuration groups.
	ServersideConfig ServersideConfig `mapstructure:"serverside_config" yaml:"serverside_config"`

	// Watermark contains the global watermark override.
	Watermark WatermarkConfig `mapstructure:"watermark" yaml:"watermark"`

	// FeatureLock controls the locked/read-only host allowlist feature.
	FeatureLock FeatureLockConfig `mapstructure:"feature_lock" yaml:"feature_lock"`

	// QuarantineFiles controls retention of rejected uploads.
	QuarantineFiles QuarantineConfig `mapstructure:"quarantine_files" yaml:"quarantine_files"`

	// Storage contains storage-host adapter configuration.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint. Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// AdmissionConfig configures pkg/wsdhttp, the minimal admission/clipboard
// HTTP surface sessions connect through.
type AdmissionConfig struct {
	// Port is the HTTP port clients connect to for session admission.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds how long the admission HTTP server waits to read a
	// request before aborting.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// KitConfig configures how the broker spawns rendering-engine ("kit") processes.
type KitConfig struct {
	// BinaryPath is the path to the kit executable.
	BinaryPath string `mapstructure:"binary_path" validate:"required" yaml:"binary_path"`

	// ChildRoot is the parent directory under which per-document jails
	// (<ChildRoot>/<jailId>/) are created.
	ChildRoot string `mapstructure:"child_root" validate:"required" yaml:"child_root"`

	// SpawnTimeout bounds how long the broker waits for a kit process to
	// complete its handshake before giving up (spec §5: ~5x command timeout).
	SpawnTimeout time.Duration `mapstructure:"spawn_timeout" yaml:"spawn_timeout"`

	// TerminateGrace is how long to wait after SIGTERM before escalating to
	// SIGKILL.
	TerminateGrace time.Duration `mapstructure:"terminate_grace" yaml:"terminate_grace"`

	// PreFilterExtension, when non-empty, names the source file extension
	// (without the dot) that triggers a pre-filter conversion before load.
	PreFilterExtension string `mapstructure:"pre_filter_extension" yaml:"pre_filter_extension,omitempty"`

	// PreFilterCommand is run as "<command> @INPUT@ @OUTPUT@" to convert a
	// PreFilterExtension document into a kit-loadable format before load.
	PreFilterCommand string `mapstructure:"pre_filter_command" yaml:"pre_filter_command,omitempty"`
}

// PerDocumentConfig mirrors spec.md §6 "per_document.*" keys.
type PerDocumentConfig struct {
	IdleTimeoutSecs         int  `mapstructure:"idle_timeout_secs" yaml:"idle_timeout_secs"`
	IdleSaveDurationSecs    int  `mapstructure:"idlesave_duration_secs" yaml:"idlesave_duration_secs"`
	AutosaveDurationSecs    int  `mapstructure:"autosave_duration_secs" yaml:"autosave_duration_secs"`
	LimitLoadSecs           int  `mapstructure:"limit_load_secs" yaml:"limit_load_secs"`
	LimitConvertSecs        int  `mapstructure:"limit_convert_secs" yaml:"limit_convert_secs"`
	LimitStoreFailures      int  `mapstructure:"limit_store_failures" yaml:"limit_store_failures"`
	AlwaysSaveOnExit        bool `mapstructure:"always_save_on_exit" yaml:"always_save_on_exit"`
	MinTimeBetweenSavesMs   int  `mapstructure:"min_time_between_saves_ms" yaml:"min_time_between_saves_ms"`
	MinTimeBetweenUploadsMs int  `mapstructure:"min_time_between_uploads_ms" yaml:"min_time_between_uploads_ms"`
}

// NetConfig mirrors spec.md §6 "net.*" keys.
type NetConfig struct {
	ConnectionTimeoutSecs int `mapstructure:"connection_timeout_secs" yaml:"connection_timeout_secs"`
}

// ServersideConfig mirrors spec.md §6 "serverside_config.*" keys.
type ServersideConfig struct {
	IdleTimeoutSecs int `mapstructure:"idle_timeout_secs" yaml:"idle_timeout_secs"`
}

// WatermarkConfig mirrors spec.md §6 "watermark.*" keys.
type WatermarkConfig struct {
	Text    string  `mapstructure:"text" yaml:"text,omitempty"`
	Opacity float64 `mapstructure:"opacity" validate:"omitempty,gte=0,lte=1" yaml:"opacity"`
}

// FeatureLockConfig mirrors spec.md §6 "feature_lock.*" keys.
type FeatureLockConfig struct {
	LockedHostsAllow bool `mapstructure:"locked_hosts_allow" yaml:"locked_hosts_allow"`
}

// QuarantineConfig mirrors spec.md §6 "quarantine_files.*" keys.
type QuarantineConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Path   string `mapstructure:"path" yaml:"path,omitempty"`
}

// StorageConfig contains storage-host adapter configuration.
type StorageConfig struct {
	Wopi WopiConfig `mapstructure:"wopi" yaml:"wopi"`
}

// WopiConfig mirrors spec.md §6 "storage.wopi.*" keys.
type WopiConfig struct {
	// IsLegacyServer, when true, also emits X-LOOL-WOPI-* headers alongside
	// X-COOL-WOPI-* for storage hosts that only understand the legacy name.
	IsLegacyServer bool `mapstructure:"is_legacy_server" yaml:"is_legacy_server"`

	// MaxRedirects bounds how many redirects CheckFileInfo/GetFile follow
	// before failing with a redirect-loop error.
	MaxRedirects int `mapstructure:"max_redirects" validate:"omitempty,gte=0" yaml:"max_redirects"`

	// RequestTimeout bounds every individual HTTP call to the storage host.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BROKER_*)
//  2. Configuration file
//  3. Default values
//
// When no configuration file is found, Load returns GetDefaultConfig()
// as it is; environment variables are not applied in that case.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  brokerd init\n\n"+
				"Or specify a custom config file:\n"+
				"  brokerd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  brokerd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the BROKER_ prefix, e.g. BROKER_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for custom types (currently
// time.Duration only; the broker has no ByteSize-valued fields).
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "brokerd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "brokerd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
