package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/schedengine/internal/domain/scheduling"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	Store             string   `mapstructure:"STORE"`
	SeedFile          string   `mapstructure:"SEED_FILE"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema          string   `mapstructure:"DB_SCHEMA"`
	AuthSigningKey    string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	LogFile           string   `mapstructure:"LOG_FILE"`
	LogFileMaxSizeMB  int      `mapstructure:"LOG_FILE_MAX_SIZE_MB"`
	LogFileMaxBackups int      `mapstructure:"LOG_FILE_MAX_BACKUPS"`

	Timezone          string `mapstructure:"TIMEZONE"`
	WorkingHoursStart string `mapstructure:"WORKING_HOURS_START"`
	WorkingHoursEnd   string `mapstructure:"WORKING_HOURS_END"`
	SlotStepMinutes   int    `mapstructure:"SLOT_STEP_MINUTES"`
	SearchDays        int    `mapstructure:"SEARCH_DAYS"`
	ResolveWindowDays int    `mapstructure:"RESOLVE_WINDOW_DAYS"`
	MaxWorkers        int    `mapstructure:"MAX_WORKERS"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var keys = []string{
	"PORT", "ENV", "STORE", "SEED_FILE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"LOG_LEVEL", "LOG_FILE", "LOG_FILE_MAX_SIZE_MB", "LOG_FILE_MAX_BACKUPS",
	"TIMEZONE", "WORKING_HOURS_START", "WORKING_HOURS_END", "SLOT_STEP_MINUTES",
	"SEARCH_DAYS", "RESOLVE_WINDOW_DAYS", "MAX_WORKERS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_FILE_MAX_BACKUPS", 5)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("WORKING_HOURS_START", "08:00")
	v.SetDefault("WORKING_HOURS_END", "18:00")
	v.SetDefault("SLOT_STEP_MINUTES", 15)
	v.SetDefault("SEARCH_DAYS", 7)
	v.SetDefault("RESOLVE_WINDOW_DAYS", 7)
	v.SetDefault("MAX_WORKERS", 0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development: requests without a token get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if _, err := c.Scheduling(); err != nil {
		return err
	}
	return nil
}

// Scheduling converts the engine settings into a scheduling.Config.
func (c *Config) Scheduling() (scheduling.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return scheduling.Config{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	start, err := scheduling.ParseTimeOfDay(c.WorkingHoursStart)
	if err != nil {
		return scheduling.Config{}, fmt.Errorf("WORKING_HOURS_START: %w", err)
	}
	end, err := scheduling.ParseTimeOfDay(c.WorkingHoursEnd)
	if err != nil {
		return scheduling.Config{}, fmt.Errorf("WORKING_HOURS_END: %w", err)
	}
	if c.SlotStepMinutes <= 0 {
		return scheduling.Config{}, fmt.Errorf("SLOT_STEP_MINUTES must be positive, got %d", c.SlotStepMinutes)
	}

	sc := scheduling.DefaultConfig()
	sc.WorkingHours = scheduling.WorkingHours{Start: start, End: end}
	sc.Step = time.Duration(c.SlotStepMinutes) * time.Minute
	sc.Location = loc
	if c.SearchDays > 0 {
		sc.SearchDays = c.SearchDays
	}
	if c.ResolveWindowDays > 0 {
		sc.ResolveWindowDays = c.ResolveWindowDays
	}
	if c.MaxWorkers > 0 {
		sc.MaxWorkers = c.MaxWorkers
	}
	if err := sc.Validate(); err != nil {
		return scheduling.Config{}, err
	}
	return sc, nil
}
