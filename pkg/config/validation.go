package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct validation tags plus
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, priority := range cfg.Coordinator.Priorities {
		if name == "" {
			return fmt.Errorf("invalid configuration: priority override with empty service name")
		}
		if !priority.Valid() {
			return fmt.Errorf("invalid configuration: service %q has unknown priority %d", name, int(priority))
		}
	}

	return nil
}
