// Package config maps the process environment onto Config using Viper.
// The .env file, if any, is loaded into the environment by the entry point.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// StoreBackend selects the account and challenge stores: "mongo" or "memory".
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	MongoURI     string `mapstructure:"MONGO_URI"`
	MongoDB      string `mapstructure:"MONGO_DB"`

	// JWTSecret is the HS256 signing key for session tokens; at least 32 bytes.
	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTIssuer string        `mapstructure:"JWT_ISSUER"`
	TokenTTL  time.Duration `mapstructure:"TOKEN_TTL"`

	// ChallengeTTL bounds how long a login may wait for its second factor.
	ChallengeTTL   time.Duration `mapstructure:"CHALLENGE_TTL"`
	OTPIssuer      string        `mapstructure:"OTP_ISSUER"`
	OTPSkew        uint          `mapstructure:"OTP_SKEW"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`

	Argon2MemoryKiB   uint32 `mapstructure:"ARGON2_MEMORY_KIB"`
	Argon2Iterations  uint32 `mapstructure:"ARGON2_ITERATIONS"`
	Argon2Parallelism uint8  `mapstructure:"ARGON2_PARALLELISM"`
}

// Load builds and validates Config from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", BackendMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "totpgate")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "totpgate")
	v.SetDefault("TOKEN_TTL", "1h")
	v.SetDefault("CHALLENGE_TTL", "5m")
	v.SetDefault("OTP_ISSUER", "totpgate")
	v.SetDefault("OTP_SKEW", 1)
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("ARGON2_MEMORY_KIB", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT must be set")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	switch c.StoreBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI must be set when STORE_BACKEND=mongo")
		}
	case BackendMemory:
		if c.Env == "production" {
			return errors.New("config: STORE_BACKEND=memory must not be used when APP_ENV=production")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.TokenTTL <= 0 || c.ChallengeTTL <= 0 {
		return errors.New("config: TOKEN_TTL and CHALLENGE_TTL must be positive")
	}
	if c.OTPMaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Argon2MemoryKiB == 0 || c.Argon2Iterations == 0 || c.Argon2Parallelism == 0 {
		return errors.New("config: argon2 parameters must be non-zero")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
