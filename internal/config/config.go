package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RecordStorePath string        `mapstructure:"RECORD_STORE_PATH"`
	RecordMasterKey string        `mapstructure:"RECORD_MASTER_KEY"`
	Quorum          int           `mapstructure:"QUORUM"`
	RequestTTL      time.Duration `mapstructure:"REQUEST_TTL"`
	AuthSecret      string        `mapstructure:"AUTH_SECRET"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("QUORUM", 2)
	v.SetDefault("REQUEST_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("RECORD_STORE_PATH")
	v.BindEnv("RECORD_MASTER_KEY")
	v.BindEnv("QUORUM")
	v.BindEnv("REQUEST_TTL")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_SECRET for production.")
		log.Println("WARNING: ============================================================")
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

// MasterKey decodes RECORD_MASTER_KEY. It returns nil when the key is unset,
// which leaves record sealing disabled.
func (c *Config) MasterKey() ([]byte, error) {
	if c.RecordMasterKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.RecordMasterKey)
	if err != nil {
		return nil, fmt.Errorf("RECORD_MASTER_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("RECORD_MASTER_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Production requires
// AUTH_SECRET so that real JWT authentication is enforced; the master key,
// when present, must decode to a usable AES-256 key.
func (c *Config) Validate() error {
	if c.Quorum < 1 {
		return fmt.Errorf("QUORUM must be at least 1, got %d", c.Quorum)
	}
	if c.RequestTTL < 0 {
		return fmt.Errorf("REQUEST_TTL must not be negative, got %s", c.RequestTTL)
	}
	if _, err := c.MasterKey(); err != nil {
		return err
	}
	if c.IsProduction() {
		if c.AuthSecret == "" {
			return fmt.Errorf("AUTH_SECRET is required in production")
		}
		if c.RecordMasterKey == "" {
			return fmt.Errorf("RECORD_MASTER_KEY is required in production")
		}
	}
	return nil
}
