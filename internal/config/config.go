package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	CacheTTL       time.Duration `mapstructure:"CACHE_TTL"`
	CacheKeyPrefix string        `mapstructure:"CACHE_KEY_PREFIX"`
	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTAccessTTL   time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL  time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	PaymentProvider     string        `mapstructure:"PAYMENT_PROVIDER"`
	PaymentCurrency     string        `mapstructure:"PAYMENT_CURRENCY"`
	PaymentCallbackURL  string        `mapstructure:"PAYMENT_CALLBACK_URL"`
	PaymentReturnURL    string        `mapstructure:"PAYMENT_RETURN_URL"`
	DefaultPaymentEmail string        `mapstructure:"DEFAULT_PAYMENT_EMAIL"`
	ChapaSecretKey      string        `mapstructure:"CHAPA_SECRET_KEY"`
	ChapaBaseURL        string        `mapstructure:"CHAPA_BASE_URL"`
	MidtransServerKey   string        `mapstructure:"MIDTRANS_SERVER_KEY"`
	MidtransProduction  bool          `mapstructure:"MIDTRANS_PRODUCTION"`
	GatewayTimeout      time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	ReconcileSchedule   string        `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileAfter      time.Duration `mapstructure:"RECONCILE_AFTER"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CACHE_TTL", "CACHE_KEY_PREFIX",
	"JWT_SIGNING_KEY", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL",
	"CORS_ORIGINS", "REQUEST_TIMEOUT",
	"PAYMENT_PROVIDER", "PAYMENT_CURRENCY", "PAYMENT_CALLBACK_URL", "PAYMENT_RETURN_URL",
	"DEFAULT_PAYMENT_EMAIL", "CHAPA_SECRET_KEY", "CHAPA_BASE_URL",
	"MIDTRANS_SERVER_KEY", "MIDTRANS_PRODUCTION", "GATEWAY_TIMEOUT",
	"RECONCILE_SCHEDULE", "RECONCILE_AFTER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CACHE_TTL", "300s")
	v.SetDefault("CACHE_KEY_PREFIX", "hospital_mgmt")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_PROVIDER", "chapa")
	v.SetDefault("PAYMENT_CURRENCY", "ETB")
	v.SetDefault("CHAPA_BASE_URL", "https://api.chapa.co/v1")
	v.SetDefault("GATEWAY_TIMEOUT", "20s")
	v.SetDefault("RECONCILE_SCHEDULE", "@every 5m")
	v.SetDefault("RECONCILE_AFTER", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are treated as an admin user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Payment gateway
// credentials are deliberately not required here: a clinic can run cash-only
// and a missing key surfaces as a configuration error on the first gateway call.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters outside development")
	}
	switch c.PaymentProvider {
	case "chapa", "midtrans":
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be \"chapa\" or \"midtrans\", got %q", c.PaymentProvider)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
