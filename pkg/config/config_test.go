package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

kit:
  binary_path: "/opt/broker/kit"
  child_root: "` + filepath.ToSlash(tmpDir) + `/jails"

admission:
  port: 9980
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Admission.Port != 9980 {
		t.Errorf("Expected admission port 9980, got %d", cfg.Admission.Port)
	}
	if cfg.PerDocument.IdleTimeoutSecs != 3600 {
		t.Errorf("Expected default per_document.idle_timeout_secs 3600, got %d", cfg.PerDocument.IdleTimeoutSecs)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Admission.Port != 9980 {
		t.Errorf("Expected default admission port 9980, got %d", cfg.Admission.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_WatermarkAndFeatureLock(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "WARN"
  format: "json"

watermark:
  text: "CONFIDENTIAL"
  opacity: 0.2

feature_lock:
  locked_hosts_allow: true

quarantine_files:
  enable: true
  path: "` + filepath.ToSlash(tmpDir) + `/quarantine"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Watermark.Text != "CONFIDENTIAL" {
		t.Errorf("Expected watermark text 'CONFIDENTIAL', got %q", cfg.Watermark.Text)
	}
	if !cfg.FeatureLock.LockedHostsAllow {
		t.Error("Expected feature_lock.locked_hosts_allow to be true")
	}
	if !cfg.QuarantineFiles.Enable {
		t.Error("Expected quarantine_files.enable to be true")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Kit.BinaryPath == "" {
		t.Error("Expected a default kit binary path")
	}
	if cfg.PerDocument.AutosaveDurationSecs != 300 {
		t.Errorf("Expected default autosave_duration_secs 300, got %d", cfg.PerDocument.AutosaveDurationSecs)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "brokerd" {
		t.Errorf("Expected directory name 'brokerd', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	_ = os.Setenv("BROKER_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("BROKER_ADMISSION_PORT", "9090")
	defer func() {
		_ = os.Unsetenv("BROKER_LOGGING_LEVEL")
		_ = os.Unsetenv("BROKER_ADMISSION_PORT")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

admission:
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Admission.Port != 9090 {
		t.Errorf("Expected port 9090 from env var, got %d", cfg.Admission.Port)
	}
}
