package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`

	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`

	AlertWebhookURL    string `mapstructure:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret string `mapstructure:"ALERT_WEBHOOK_SECRET"`

	// Optional overrides for the evaluator's decision thresholds and
	// lookback windows. Zero means "use the built-in default".
	ScoreFloor      int           `mapstructure:"RLS_SCORE_FLOOR"`
	ThreatCeiling   int           `mapstructure:"RLS_THREAT_CEILING"`
	BurstWindow     time.Duration `mapstructure:"RLS_BURST_WINDOW"`
	FrequencyWindow time.Duration `mapstructure:"RLS_FREQUENCY_WINDOW"`
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
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_CONN_MAX_LIFETIME")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("ALERT_WEBHOOK_URL")
	v.BindEnv("ALERT_WEBHOOK_SECRET")
	v.BindEnv("RLS_SCORE_FLOOR")
	v.BindEnv("RLS_THREAT_CEILING")
	v.BindEnv("RLS_BURST_WINDOW")
	v.BindEnv("RLS_FREQUENCY_WINDOW")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// DevWarnings lists the security consequences of running in development
// mode, for the caller to log. Empty outside development.
func (c *Config) DevWarnings() []string {
	if !c.IsDev() {
		return nil
	}
	warnings := []string{
		"server is running in DEVELOPMENT mode (ENV=development)",
	}
	if c.JWTSigningKey == "" {
		warnings = append(warnings, "dev auth is active: unauthenticated requests get admin access")
	}
	if c.DatabaseURL == "" {
		warnings = append(warnings, "audit rows go to an in-memory store and will not survive restarts")
	}
	return warnings
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production requires
// a database-backed audit trail and real JWT authentication; development may
// run without either.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production: the audit trail must be durable")
		}
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required in production. " +
				"Refusing to start without authentication configuration")
		}
	}
	if c.AlertWebhookURL != "" && c.AlertWebhookSecret == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URL is set")
	}
	if c.ScoreFloor < 0 || c.ScoreFloor > 100 {
		return fmt.Errorf("RLS_SCORE_FLOOR must be between 0 and 100, got %d", c.ScoreFloor)
	}
	if c.ThreatCeiling < 0 || c.ThreatCeiling > 100 {
		return fmt.Errorf("RLS_THREAT_CEILING must be between 0 and 100, got %d", c.ThreatCeiling)
	}
	if c.BurstWindow < 0 {
		return fmt.Errorf("RLS_BURST_WINDOW must not be negative, got %s", c.BurstWindow)
	}
	if c.FrequencyWindow < 0 {
		return fmt.Errorf("RLS_FREQUENCY_WINDOW must not be negative, got %s", c.FrequencyWindow)
	}
	return nil
}
