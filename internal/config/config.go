package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthPublicKeyFile string        `mapstructure:"AUTH_PUBLIC_KEY_FILE"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthTokenTTL      time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic        string        `mapstructure:"KAFKA_TOPIC"`
	OTLPEndpoint      string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate   float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

// minSigningKeyLen is the shortest HMAC key accepted for HS256.
const minSigningKeyLen = 32

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("AUTH_TOKEN_TTL", "1h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("KAFKA_TOPIC", "clinic.events")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
		"AUTH_SIGNING_KEY", "AUTH_PUBLIC_KEY_FILE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_TOKEN_TTL",
		"CORS_ORIGINS", "KAFKA_BROKERS", "KAFKA_TOPIC", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
		"REQUEST_TIMEOUT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma separated lists arrive as a single element from the environment.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey != "" && cfg.AuthPublicKeyFile == "" {
		log.Println("WARNING: running in development mode with a shared HS256 signing key.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoginEnabled reports whether the service can issue its own tokens. With only
// a public key configured, tokens come from an external issuer.
func (c *Config) LoginEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks that the configuration is safe to run: exactly one
// verification key source and a usable token lifetime.
func (c *Config) Validate() error {
	hasSecret := c.AuthSigningKey != ""
	hasPublic := c.AuthPublicKeyFile != ""
	switch {
	case !hasSecret && !hasPublic:
		return fmt.Errorf("one of AUTH_SIGNING_KEY or AUTH_PUBLIC_KEY_FILE must be set")
	case hasSecret && hasPublic:
		return fmt.Errorf("AUTH_SIGNING_KEY and AUTH_PUBLIC_KEY_FILE are mutually exclusive")
	}
	if hasSecret && len(c.AuthSigningKey) < minSigningKeyLen {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes, got %d", minSigningKeyLen, len(c.AuthSigningKey))
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive, got %s", c.AuthTokenTTL)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1], got %v", c.TraceSampleRate)
	}
	if c.IsProduction() && len(c.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required in production")
	}
	return nil
}
