// Package config loads command configuration from the environment and
// provides the shared fatal-exit helper for CLI entry points.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from environment variables declared with `env` struct
// tags. Fields keep their `envDefault` when the variable is unset.
func ParseEnv(target any) error {
	if target == nil {
		return errors.New("config target is required")
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
