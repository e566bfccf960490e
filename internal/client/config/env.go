package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// parseEnv overlays cfg with NOTESYNC_* environment variables. Unset
// variables leave the current value untouched.
func parseEnv(cfg *Config) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}
