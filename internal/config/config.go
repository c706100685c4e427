package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const (
	// EnvPrefix marks environment overrides: PHONEPAY_DATABASE__URL sets database.url
	EnvPrefix = "PHONEPAY_"
	// FileEnvVar names an optional YAML config file
	FileEnvVar = "IVR_CONFIG_FILE"
)

// Config holds all application configuration
type Config struct {
	Env       string          `koanf:"env" validate:"required,oneof=development staging production"`
	Server    ServerConfig    `koanf:"server"`
	Admin     AdminConfig     `koanf:"admin"`
	Database  DatabaseConfig  `koanf:"database"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	IVR       IVRConfig       `koanf:"ivr"`
	Carrier   CarrierConfig   `koanf:"carrier"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	NATS      NATSConfig      `koanf:"nats"`
	Logger    LoggerConfig    `koanf:"logger"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// ServerConfig is the webhook HTTP server
type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"required"`
}

// AdminConfig serves metrics and health. An empty GRPCPort disables the gRPC
// health server.
type AdminConfig struct {
	Port     string `koanf:"port" validate:"required"`
	GRPCPort string `koanf:"grpc_port"`
}

// DatabaseConfig selects the customer and ledger store. The memory driver is
// for demos and carrier console setup; it loses every payment on restart.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver" validate:"required,oneof=postgres memory"`
	URL             string        `koanf:"url"`
	URLSecret       string        `koanf:"url_secret"`
	SeedFile        string        `koanf:"seed_file"`
	MaxConns        int32         `koanf:"max_conns" validate:"min=1"`
	MinConns        int32         `koanf:"min_conns" validate:"min=0"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
	LookupTimeout   time.Duration `koanf:"lookup_timeout" validate:"required"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// GatewayConfig is the EPX Server Post merchant account
type GatewayConfig struct {
	Environment string        `koanf:"environment" validate:"required,oneof=sandbox production"`
	BaseURL     string        `koanf:"base_url"`
	CustNbr     string        `koanf:"cust_nbr" validate:"required"`
	MerchNbr    string        `koanf:"merch_nbr" validate:"required"`
	DBANbr      string        `koanf:"dba_nbr" validate:"required"`
	TerminalNbr string        `koanf:"terminal_nbr" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" validate:"required"`
}

// IVRConfig controls the call flow and its wording
type IVRConfig struct {
	PublicBaseURL        string `koanf:"public_base_url" validate:"required,url"`
	MainMenuURL          string `koanf:"main_menu_url"`
	StoreName            string `koanf:"store_name" validate:"required"`
	Voice                string `koanf:"voice"`
	Language             string `koanf:"language"`
	GatherTimeoutSeconds int    `koanf:"gather_timeout_seconds" validate:"min=1,max=60"`
	DialTimeoutSeconds   int    `koanf:"dial_timeout_seconds" validate:"min=5,max=120"`
	ForwardNumber        string `koanf:"forward_number"`
	CallerID             string `koanf:"caller_id"`
	MaxRetries           int    `koanf:"max_retries" validate:"min=0,max=3"`
	// ChargeTimeout bounds the sale plus its ledger writes and must stay
	// under the carrier's webhook deadline
	ChargeTimeout time.Duration `koanf:"charge_timeout" validate:"required"`
}

// CarrierConfig holds the webhook signing token. AuthTokenSecret, when set,
// is looked up in the secret backend and wins over AuthToken.
type CarrierConfig struct {
	AuthToken       string `koanf:"auth_token"`
	AuthTokenSecret string `koanf:"auth_token_secret"`
}

// SecretsConfig selects the secret backend
type SecretsConfig struct {
	Provider   string        `koanf:"provider" validate:"omitempty,oneof=aws vault local"`
	AWSRegion  string        `koanf:"aws_region"`
	AWSProfile string        `koanf:"aws_profile"`
	Endpoint   string        `koanf:"endpoint"`
	VaultAddr  string        `koanf:"vault_addr"`
	VaultToken string        `koanf:"vault_token"`
	VaultMount string        `koanf:"vault_mount"`
	LocalPath  string        `koanf:"local_path"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
}

// NATSConfig enables event publishing when URL is set
type NATSConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggerConfig controls zap
type LoggerConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// RateLimitConfig bounds payment webhooks per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"min=0"`
	Burst             int     `koanf:"burst" validate:"min=0"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"env": "development",

		"server.port":             "8080",
		"server.read_timeout":     "10s",
		"server.write_timeout":    "45s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "30s",

		"admin.port": "9090",

		"database.driver":             "postgres",
		"database.max_conns":          10,
		"database.min_conns":          2,
		"database.max_conn_lifetime":  "1h",
		"database.max_conn_idle_time": "30m",
		"database.lookup_timeout":     "2s",

		"gateway.environment": "sandbox",
		"gateway.timeout":     "10s",

		"ivr.store_name":             "the bookstore",
		"ivr.voice":                  "Polly.Joanna",
		"ivr.language":               "en-US",
		"ivr.gather_timeout_seconds": 10,
		"ivr.dial_timeout_seconds":   30,
		"ivr.max_retries":            1,
		"ivr.charge_timeout":         "12s",

		"secrets.aws_region":  "us-east-1",
		"secrets.vault_mount": "secret",
		"secrets.cache_ttl":   "5m",

		"nats.timeout": "5s",

		"logger.level": "info",

		"rate_limit.requests_per_second": 20,
		"rate_limit.burst":               40,
	}
}

// Load reads defaults, then the YAML file named by IVR_CONFIG_FILE, then
// PHONEPAY_ environment variables, and validates the result.
func Load() (*Config, error) {
	return load(os.Getenv(FileEnvVar))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules that span fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" && c.Database.URLSecret == "" {
		return fmt.Errorf("config validation failed: database.url or database.url_secret is required for the postgres driver")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("config validation failed: database.min_conns exceeds database.max_conns")
	}
	if c.Gateway.Timeout >= c.IVR.ChargeTimeout {
		return fmt.Errorf("config validation failed: gateway.timeout must be shorter than ivr.charge_timeout")
	}
	if (c.Database.URLSecret != "" || c.Carrier.AuthTokenSecret != "") && c.Secrets.Provider == "" {
		return fmt.Errorf("config validation failed: a secret reference is set but secrets.provider is empty")
	}
	if c.Env == "production" {
		if c.Gateway.Environment != "production" {
			return fmt.Errorf("config validation failed: production must use the production gateway")
		}
		if c.Carrier.AuthToken == "" && c.Carrier.AuthTokenSecret == "" {
			return fmt.Errorf("config validation failed: carrier webhook signing is required in production")
		}
		if c.Database.Driver == "memory" {
			return fmt.Errorf("config validation failed: the memory driver cannot be used in production")
		}
	}
	return nil
}

// IsProduction reports whether the service runs against real money
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PaymentURL is the public address of the payment webhook
func (c *IVRConfig) PaymentURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/ivr/payment"
}

// EscalateURL is the public address of the escalation webhook
func (c *IVRConfig) EscalateURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/ivr/escalate"
}
