package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration against the `validate` struct tags and a
// handful of cross-field rules the tags alone can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.QuarantineFiles.Enable && cfg.QuarantineFiles.Path == "" {
		return fmt.Errorf("quarantine_files.path is required when quarantine_files.enable is true")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port is required when metrics.enabled is true")
	}

	return nil
}
