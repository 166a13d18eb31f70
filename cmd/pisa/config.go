package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// config holds the process configuration, loaded from the environment
// under the PISA_ prefix (e.g. PISA_PROVIDER_ENDPOINT). Present in the
// teacher's go.mod but never wired in the copied code — this is its home
// (SPEC_FULL.md §A.3).
type config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	OTELServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"pisa"`

	ProviderEndpoint string `envconfig:"PROVIDER_ENDPOINT" required:"true"`

	SignerEndpoint string `envconfig:"SIGNER_ENDPOINT" required:"true"`
	SignerAddress  string `envconfig:"SIGNER_ADDRESS" required:"true"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	MaxBlockDepth uint64 `envconfig:"MAX_BLOCK_DEPTH" default:"256"`

	GasFloor      uint64  `envconfig:"GAS_FLOOR" default:"1"`
	GasBumpFactor float64 `envconfig:"GAS_BUMP_FACTOR" default:"1.125"`
	GasBumpMax    uint64  `envconfig:"GAS_BUMP_MAX" default:"0"`

	RPCTimeout time.Duration `envconfig:"RPC_TIMEOUT" default:"5s"`
}

// loadConfig reads config from the environment.
func loadConfig() (config, error) {
	var cfg config
	if err := envconfig.Process("pisa", &cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}
