// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
)

// Config is the full process configuration.
type Config struct {
	AppEnv  string `env:"APP_ENV"  envDefault:"development"`
	AppName string `env:"APP_NAME" envDefault:"layergate"`
	Port    string `env:"PORT"     envDefault:"8080"`

	Database Database `envPrefix:"DB_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Cipher   Cipher   `envPrefix:"CIPHER_"`

	NotifyChannel  string        `env:"NOTIFY_CHANNEL"       envDefault:"layergate:notifications"`
	PassSigningKey string        `env:"PASS_SIGNING_KEY"     envDefault:"dev-pass-signing-key"`
	RevealWindow   time.Duration `env:"REVEAL_WINDOW"        envDefault:"24h"`
	RecoveryLimit  int           `env:"RECOVERY_RATE_LIMIT"  envDefault:"5"`
	RecoveryWindow time.Duration `env:"RECOVERY_RATE_WINDOW" envDefault:"15m"`
}

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     string `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:"postgres"`
	Name     string `env:"NAME"     envDefault:"layergate"`
	SSLMode  string `env:"SSLMODE"  envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"20"`
	MinConns int32  `env:"MIN_CONNS" envDefault:"2"`
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Redis holds the optional Redis connection. An empty Addr disables Redis;
// notifications then go to the log and rate limiting stays in process.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Cipher holds the second-factor policy.
type Cipher struct {
	Issuer            string        `env:"ISSUER"              envDefault:"comm@"`
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS" envDefault:"5"`
	Lockout           time.Duration `env:"LOCKOUT"             envDefault:"15m"`
	Period            time.Duration `env:"PERIOD"              envDefault:"30s"`
	Skew              uint          `env:"SKEW"                envDefault:"1"`
	RecoveryCodes     int           `env:"RECOVERY_CODES"      envDefault:"10"`
	RecoveryWarnBelow int           `env:"RECOVERY_WARN_BELOW" envDefault:"3"`
	EnrollmentTTL     time.Duration `env:"ENROLLMENT_TTL"      envDefault:"30m"`
	SealingKey        string        `env:"SEALING_KEY"         envDefault:"dev-cipher-sealing-key"`
}

// Policy converts the env view into the cipher engine's policy.
func (c Cipher) Policy() cipher.Policy {
	return cipher.Policy{
		Issuer:            c.Issuer,
		MaxFailedAttempts: c.MaxFailedAttempts,
		Lockout:           c.Lockout,
		Period:            c.Period,
		Skew:              c.Skew,
		RecoveryCodes:     c.RecoveryCodes,
		RecoveryWarnBelow: c.RecoveryWarnBelow,
		EnrollmentTTL:     c.EnrollmentTTL,
	}
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Cipher.MaxFailedAttempts <= 0 {
		return fmt.Errorf("CIPHER_MAX_FAILED_ATTEMPTS must be positive")
	}
	if c.Cipher.Period < time.Second {
		return fmt.Errorf("CIPHER_PERIOD must be at least one second")
	}
	if c.Cipher.RecoveryCodes <= 0 {
		return fmt.Errorf("CIPHER_RECOVERY_CODES must be positive")
	}
	if c.IsProduction() {
		if c.Cipher.SealingKey == "dev-cipher-sealing-key" || c.PassSigningKey == "dev-pass-signing-key" {
			return fmt.Errorf("production requires CIPHER_SEALING_KEY and PASS_SIGNING_KEY")
		}
	}
	return nil
}
