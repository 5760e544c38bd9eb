package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default strategy: zero values (0, "", false) are replaced with defaults;
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyAdmissionDefaults(&cfg.Admission)
	applyKitDefaults(&cfg.Kit)
	applyPerDocumentDefaults(&cfg.PerDocument)
	applyNetDefaults(&cfg.Net)
	applyServersideConfigDefaults(&cfg.ServersideConfig)
	applyQuarantineDefaults(&cfg.QuarantineFiles)
	applyStorageDefaults(&cfg.Storage)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAdmissionDefaults sets the admission HTTP server defaults.
func applyAdmissionDefaults(cfg *AdmissionConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9980
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
}

// applyKitDefaults sets rendering-engine process defaults.
func applyKitDefaults(cfg *KitConfig) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "/usr/bin/kit"
	}
	if cfg.ChildRoot == "" {
		cfg.ChildRoot = "/opt/broker/child-roots"
	}
	if cfg.SpawnTimeout == 0 {
		// generous bound: kit startup competes with other child processes under load
		cfg.SpawnTimeout = 150 * time.Second
	}
	if cfg.TerminateGrace == 0 {
		cfg.TerminateGrace = 5 * time.Second
	}
}

// applyPerDocumentDefaults sets the per-document session timer and limit defaults.
func applyPerDocumentDefaults(cfg *PerDocumentConfig) {
	if cfg.IdleTimeoutSecs == 0 {
		cfg.IdleTimeoutSecs = 3600
	}
	if cfg.IdleSaveDurationSecs == 0 {
		cfg.IdleSaveDurationSecs = 30
	}
	if cfg.AutosaveDurationSecs == 0 {
		cfg.AutosaveDurationSecs = 300
	}
	if cfg.LimitLoadSecs == 0 {
		cfg.LimitLoadSecs = 100
	}
	if cfg.LimitConvertSecs == 0 {
		cfg.LimitConvertSecs = 100
	}
	if cfg.LimitStoreFailures == 0 {
		cfg.LimitStoreFailures = 5
	}
	if cfg.MinTimeBetweenSavesMs == 0 {
		cfg.MinTimeBetweenSavesMs = 500
	}
	if cfg.MinTimeBetweenUploadsMs == 0 {
		cfg.MinTimeBetweenUploadsMs = 5000
	}
}

// applyNetDefaults sets network timeout defaults.
func applyNetDefaults(cfg *NetConfig) {
	if cfg.ConnectionTimeoutSecs == 0 {
		cfg.ConnectionTimeoutSecs = 30
	}
}

// applyServersideConfigDefaults sets the per-host config group discard timeout.
func applyServersideConfigDefaults(cfg *ServersideConfig) {
	if cfg.IdleTimeoutSecs == 0 {
		cfg.IdleTimeoutSecs = 3600
	}
}

// applyQuarantineDefaults sets the rejected-upload quarantine defaults.
func applyQuarantineDefaults(cfg *QuarantineConfig) {
	if cfg.Enable && cfg.Path == "" {
		cfg.Path = "/var/lib/brokerd/quarantine"
	}
}

// applyStorageDefaults sets the WOPI storage-adapter defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Wopi.MaxRedirects == 0 {
		cfg.Wopi.MaxRedirects = 20
	}
	if cfg.Wopi.RequestTimeout == 0 {
		cfg.Wopi.RequestTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Useful for generating sample configuration files, testing, and documentation.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Kit: KitConfig{
			BinaryPath: "/usr/bin/kit",
			ChildRoot:  "/opt/broker/child-roots",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
