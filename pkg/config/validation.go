package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration for invalid or inconsistent values.
// Struct-level constraints are expressed as validate tags; cross-field
// rules live here.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Storage.Backend == "badger" && cfg.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required when storage.backend is badger")
	}

	return nil
}
