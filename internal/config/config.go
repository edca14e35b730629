// Package config loads service configuration: built-in defaults, then an
// optional YAML file named by FINGATE_CONFIG, then FINGATE_* environment
// variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fingate.org/internal/auth"
	"fingate.org/internal/obs"
)

// Profiles.
const (
	Development = "development"
	Production  = "production"
)

// Config is the full service configuration.
type Config struct {
	Profile  string         `yaml:"profile"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Auth     AuthConfig     `yaml:"auth"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Routes   RoutesConfig   `yaml:"routes"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr          string        `yaml:"addr"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// BootstrapEmail, when set outside production, is created at startup
	// with BootstrapPassword and a forced password change.
	BootstrapEmail    string `yaml:"bootstrap_email"`
	BootstrapPassword string `yaml:"bootstrap_password"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AuditTopic string   `yaml:"audit_topic"`
}

type RoutesConfig struct {
	Public []string `yaml:"public"`
	Exempt []string `yaml:"exempt"`
}

// Default returns the configuration before any file or environment is applied.
func Default() Config {
	return Config{
		Profile: Development,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:          ":9090",
			ProbeInterval: 5 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:   "fingate",
			TokenTTL: auth.DefaultTokenTTL,
		},
		Redis: RedisConfig{CacheTTL: 5 * time.Minute},
		Kafka: KafkaConfig{AuditTopic: "fingate.audit"},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("FINGATE_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}

	str("FINGATE_PROFILE", &c.Profile)
	str("FINGATE_ADDR", &c.HTTP.Addr)
	str("FINGATE_GRPC_ADDR", &c.GRPC.Addr)
	str("FINGATE_AUTH_SECRET", &c.Auth.Secret)
	str("FINGATE_AUTH_ISSUER", &c.Auth.Issuer)
	str("FINGATE_BOOTSTRAP_EMAIL", &c.Auth.BootstrapEmail)
	str("FINGATE_BOOTSTRAP_PASSWORD", &c.Auth.BootstrapPassword)
	str("FINGATE_PG_DSN", &c.Postgres.DSN)
	str("FINGATE_REDIS_URL", &c.Redis.URL)
	str("FINGATE_KAFKA_AUDIT_TOPIC", &c.Kafka.AuditTopic)
	list("FINGATE_KAFKA_BROKERS", &c.Kafka.Brokers)
	list("FINGATE_PUBLIC_ROUTES", &c.Routes.Public)
	list("FINGATE_EXEMPT_PREFIXES", &c.Routes.Exempt)

	if v, ok := lookup("FINGATE_TOKEN_TTL"); ok && strings.TrimSpace(v) != "" {
		ttl, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("FINGATE_TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = ttl
	}
	return nil
}

// Validate checks the configuration. Outside production a missing auth
// secret is replaced with an ephemeral random one.
func (c *Config) Validate() error {
	c.Profile = strings.ToLower(strings.TrimSpace(c.Profile))
	switch c.Profile {
	case Development, Production:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http address is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if c.Auth.Secret == "" {
		if c.Profile == Production {
			return errors.New("FINGATE_AUTH_SECRET is required in production")
		}
		secret, err := ephemeralSecret()
		if err != nil {
			return fmt.Errorf("generate auth secret: %w", err)
		}
		c.Auth.Secret = secret
		obs.Warn("auth_secret_ephemeral", map[string]any{
			"profile": c.Profile,
			"detail":  "tokens will not survive a restart; set FINGATE_AUTH_SECRET",
		})
	}
	if c.Profile == Production && c.Auth.BootstrapEmail != "" {
		return errors.New("bootstrap user is not allowed in production")
	}
	return nil
}

func ephemeralSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
