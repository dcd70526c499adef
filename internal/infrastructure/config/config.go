package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	OTPStoreRedis = "redis"
	OTPStoreMongo = "mongo"

	minBcryptCost = 4
	maxBcryptCost = 31
)

type Config struct {
	Port      string `env:"PORT,       default=8080"`
	Env       string `env:"ENV,        default=development"`
	LogLevel  string `env:"LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	// CORSOrigins is a comma-separated allow list; empty disables CORS.
	CORSOrigins []string `env:"CORS_ORIGINS, default=http://localhost:3000"`

	JWT    JWTConfig
	OTP    OTPConfig
	Bcrypt BcryptConfig
	Mongo  MongoConfig
	Redis  RedisConfig
	Mail   MailConfig
}

type JWTConfig struct {
	// Secret is the base64-encoded HMAC key.
	Secret string        `env:"JWT_SECRET"`
	TTL    time.Duration `env:"JWT_TTL, default=24h"`
}

type OTPConfig struct {
	// TTL of a signup challenge; 0 disables expiry.
	TTL   time.Duration `env:"OTP_TTL,   default=5m"`
	Store string        `env:"OTP_STORE, default=redis"`
}

type BcryptConfig struct {
	Cost int `env:"BCRYPT_COST, default=10"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=identity"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

type MailConfig struct {
	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT,     default=587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	From         string        `env:"SMTP_FROM,     default=no-reply@localhost"`
	Timeout      time.Duration `env:"MAIL_TIMEOUT,  default=10s"`
	Retries      int           `env:"MAIL_RETRIES,  default=2"`
	Async        bool          `env:"MAIL_ASYNC,    default=false"`
	Workers      int           `env:"MAIL_WORKERS,  default=4"`
}

// IsDevelopment reports whether the process runs with ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.OTP.TTL < 0 {
		errs = append(errs, errors.New("OTP_TTL must not be negative"))
	}
	if c.OTP.Store != OTPStoreRedis && c.OTP.Store != OTPStoreMongo {
		errs = append(errs, fmt.Errorf("OTP_STORE must be %q or %q", OTPStoreRedis, OTPStoreMongo))
	}
	if c.Bcrypt.Cost < minBcryptCost || c.Bcrypt.Cost > maxBcryptCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", minBcryptCost, maxBcryptCost))
	}
	if c.Mail.SMTPHost == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("SMTP_HOST is required outside development"))
	}
	if c.Mail.Async && c.Mail.Workers <= 0 {
		errs = append(errs, errors.New("MAIL_WORKERS must be positive when MAIL_ASYNC is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
