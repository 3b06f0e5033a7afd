// Package config parses the proxy's runtime configuration from the
// environment, the only configuration surface the process supports.
package config

import (
	"github.com/caarlos0/env/v11"
)

// Config holds every environment-derived setting the proxy needs to start.
type Config struct {
	ProxyPort             int    `env:"PROXY_PORT" envDefault:"6350"`
	RedisAddress          string `env:"REDIS_ADDRESS,required,notEmpty"`
	IsRedisTLSConn        bool   `env:"IS_REDIS_TLS_CONN" envDefault:"false"`
	FaultConfigServerPort int    `env:"FAULT_CONFIG_SERVER_PORT" envDefault:"8000"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
