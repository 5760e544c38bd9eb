package config

import (
	"fmt"
	"os"
)

// InitConfig writes a sample configuration file to the default location.
// It returns the path written to, or an error if the file already exists
// and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration file to the given path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	return SaveConfig(GetDefaultConfig(), path)
}
