package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load populates cfg from environment variables declared with `env` and
// `envDefault` struct tags. Unset variables fall back to their defaults.
//
//	type Config struct {
//	    HTTPPort int    `env:"CART_HTTP_PORT" envDefault:"8003"`
//	    Brokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
