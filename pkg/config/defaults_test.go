package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Admission(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Admission.Port != 9980 {
		t.Errorf("Expected default admission port 9980, got %d", cfg.Admission.Port)
	}
	if cfg.Admission.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default admission read timeout 10s, got %v", cfg.Admission.ReadTimeout)
	}
}

func TestApplyDefaults_Kit(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Kit.BinaryPath == "" {
		t.Error("Expected a default kit binary path")
	}
	if cfg.Kit.ChildRoot == "" {
		t.Error("Expected a default kit child root")
	}
	if cfg.Kit.SpawnTimeout != 150*time.Second {
		t.Errorf("Expected default kit spawn timeout 150s, got %v", cfg.Kit.SpawnTimeout)
	}
}

func TestApplyDefaults_PerDocument(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.PerDocument.IdleTimeoutSecs != 3600 {
		t.Errorf("Expected default idle_timeout_secs 3600, got %d", cfg.PerDocument.IdleTimeoutSecs)
	}
	if cfg.PerDocument.AutosaveDurationSecs != 300 {
		t.Errorf("Expected default autosave_duration_secs 300, got %d", cfg.PerDocument.AutosaveDurationSecs)
	}
	if cfg.PerDocument.LimitStoreFailures != 5 {
		t.Errorf("Expected default limit_store_failures 5, got %d", cfg.PerDocument.LimitStoreFailures)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/brokerd.log",
		},
		ShutdownTimeout: 60 * time.Second,
		PerDocument: PerDocumentConfig{
			IdleTimeoutSecs: 120,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/brokerd.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.PerDocument.IdleTimeoutSecs != 120 {
		t.Errorf("Expected explicit idle_timeout_secs to be preserved, got %d", cfg.PerDocument.IdleTimeoutSecs)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level == "" {
		t.Error("Default config missing logging level")
	}
	if cfg.Kit.BinaryPath == "" {
		t.Error("Default config missing kit binary path")
	}
	if cfg.Kit.ChildRoot == "" {
		t.Error("Default config missing kit child root")
	}
}
