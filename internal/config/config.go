package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendXLSX     = "xlsx"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	StoreBackend         string        `mapstructure:"STORE_BACKEND"`
	WorkbookPath         string        `mapstructure:"WORKBOOK_PATH"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	LayoutFile           string        `mapstructure:"LAYOUT_FILE"`
	DeleteConfirmTimeout time.Duration `mapstructure:"DELETE_CONFIRM_TIMEOUT"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_BACKEND", "WORKBOOK_PATH", "DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CACHE_TTL", "LAYOUT_FILE",
	"DELETE_CONFIRM_TIMEOUT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", BackendXLSX)
	v.SetDefault("WORKBOOK_PATH", "patients.xlsx")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CACHE_TTL", "20s")
	v.SetDefault("LAYOUT_FILE", "layout.yaml")
	v.SetDefault("DELETE_CONFIRM_TIMEOUT", "2m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendXLSX:
		if c.WorkbookPath == "" {
			return fmt.Errorf("WORKBOOK_PATH is required when STORE_BACKEND is %q", BackendXLSX)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q or %q, got %q",
			BackendXLSX, BackendPostgres, BackendMemory, c.StoreBackend)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.DeleteConfirmTimeout <= 0 {
		return fmt.Errorf("DELETE_CONFIRM_TIMEOUT must be positive, got %s", c.DeleteConfirmTimeout)
	}
	return nil
}
