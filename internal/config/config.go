package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const EnvProduction = "production"

type Config struct {
	DBSource    string
	StoreDriver string
	Port        string
	Env         string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration

	CommissionRate  decimal.Decimal
	PlatformAccount string
	WithdrawalFee   int64

	Providers          []string
	DisabledProviders  []string
	ProviderTimeout    time.Duration
	PaystackBaseURL    string
	FlutterwaveBaseURL string
	WebhookSkipVerify  bool
	SettlementTimeout  time.Duration
}

// IsProduction reports whether the process runs with production semantics.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// AllowUnverifiedWebhooks is true only when the bypass flag is set outside production.
func (c *Config) AllowUnverifiedWebhooks() bool {
	return c.WebhookSkipVerify && !c.IsProduction()
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; variables already set win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBSource:           os.Getenv("DB_SOURCE"),
		StoreDriver:        getEnv("STORE_DRIVER", "postgres"),
		Port:               getEnv("SERVER_PORT", "8080"),
		Env:                getEnv("ENVIRONMENT", "development"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		PlatformAccount:    getEnv("PLATFORM_ACCOUNT", "platform"),
		Providers:          getEnvList("PROVIDERS", []string{"paystack", "flutterwave"}),
		DisabledProviders:  getEnvList("PROVIDERS_DISABLED", nil),
		PaystackBaseURL:    getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		FlutterwaveBaseURL: getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WithdrawalFee, err = getEnvInt64("WITHDRAWAL_FEE", 100); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = getEnvDuration("JWT_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SettlementTimeout, err = getEnvDuration("SETTLEMENT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookSkipVerify, err = getEnvBool("WEBHOOK_SKIP_VERIFY", false); err != nil {
		return nil, err
	}

	cfg.CommissionRate, err = decimal.NewFromString(getEnv("COMMISSION_RATE", "0.10"))
	if err != nil {
		return nil, fmt.Errorf("COMMISSION_RATE: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET environment variable is required in production")
		}
		c.JWTSecret = "dev-only-secret"
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_RATE must be within [0, 1], got %s", c.CommissionRate)
	}
	if c.WithdrawalFee < 0 {
		return fmt.Errorf("WITHDRAWAL_FEE must not be negative")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("PROVIDERS must name at least one provider")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(strings.ToLower(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
