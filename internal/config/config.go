package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	APIBaseURL     string   `mapstructure:"API_BASE_URL"`
	APIKey         string   `mapstructure:"API_KEY"`
	OrgID          string   `mapstructure:"ORG_ID"`
	ClientID       string   `mapstructure:"CLIENT_ID"`
	TenantID       string   `mapstructure:"TENANT_ID"`
	IDPBaseURL     string   `mapstructure:"IDP_BASE_URL"`
	IDPAPIKey      string   `mapstructure:"IDP_API_KEY"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	SessionIdleTTL int      `mapstructure:"SESSION_IDLE_TTL_MINUTES"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_IDLE_TTL_MINUTES", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("API_BASE_URL")
	v.BindEnv("API_KEY")
	v.BindEnv("ORG_ID")
	v.BindEnv("CLIENT_ID")
	v.BindEnv("TENANT_ID")
	v.BindEnv("IDP_BASE_URL")
	v.BindEnv("IDP_API_KEY")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SESSION_IDLE_TTL_MINUTES")

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

	if cfg.DatabaseURL == "" {
		log.Println("WARNING: DATABASE_URL not set; remember-me persistence disabled")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// RememberMeEnabled reports whether the portal can persist remember-me
// records. Without a database the login flow still works; the phone field is
// simply never prefilled.
func (c *Config) RememberMeEnabled() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run. The clinic backend
// and the identity provider are both external systems; refusing to start
// without their coordinates beats failing on the first login attempt.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.OrgID == "" {
		return fmt.Errorf("ORG_ID is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("CLIENT_ID is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("TENANT_ID is required")
	}
	if c.IDPBaseURL == "" {
		return fmt.Errorf("IDP_BASE_URL is required")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL_MINUTES must be positive, got %d", c.SessionIdleTTL)
	}
	return nil
}
