package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CARTFLOW_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string `usage:"PostgreSQL connection URL (CARTFLOW_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string `usage:"Redis connection URL (CARTFLOW_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APITokenPepper string `usage:"HMAC pepper for session token hashing (CARTFLOW_API_TOKEN_PEPPER)" flag:"api-token-pepper"`
	Currency       string `default:"BDT" usage:"Currency code applied to every order"`
	DeliveryCharge int    `default:"150" usage:"Flat delivery charge added to each order total" flag:"delivery-charge"`
	SignalBuffer   int    `default:"256" usage:"Payment confirmation queue capacity" flag:"signal-buffer"`
	Gateway        GatewayConfig
	Checkout       CheckoutConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// GatewayConfig holds the hosted payment gateway credentials.
type GatewayConfig struct {
	BaseURL     string `usage:"Payment gateway base URL" flag:"gateway-base-url"`
	StoreID     string `usage:"Merchant store ID at the gateway" flag:"gateway-store-id"`
	StoreSecret string `usage:"Shared secret for gateway request signing" flag:"gateway-store-secret"`
}

// CheckoutConfig controls checkout session and pending-order retention.
type CheckoutConfig struct {
	SessionTTL time.Duration `default:"168h" usage:"How long an idle checkout session is kept" flag:"session-ttl"`
	PendingTTL time.Duration `default:"720h" usage:"How long an unconfirmed pending-order slot is kept" flag:"pending-ttl"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CARTFLOW",
		Files:     []string{"config.yaml", "/etc/cartflow/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CARTFLOW_DATABASE_URL or DATABASE_URL")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("redis URL is required: set CARTFLOW_REDIS_URL or REDIS_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CARTFLOW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
