/*
Package config loads server settings.

SOURCES (later wins):
  1. Defaults (setDefaults)
  2. Optional config file (yaml, json or toml, by extension)
  3. Environment variables with the CENSUS_ prefix, e.g. CENSUS_PORT,
     CENSUS_SERVICE_AREA_URL

KEYS:
  port                     HTTP port
  db_path                  SQLite path (":memory:" for in-memory)
  allowed_origins          CORS origins
  page_size                Households per page
  upload_limit             Maximum import rows (0 disables)
  plan_header              Header holding the plan catalogue
  service_area_url         Remote lookup base URL ("" uses the local table)
  service_area_chunk_size  Zips per remote lookup request
  service_area_timeout     Remote lookup timeout
  session_idle_timeout     Idle editing sessions are closed after this
  log_level                debug, info, warn, error
*/
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 int
	DBPath               string
	AllowedOrigins       []string
	PageSize             int
	UploadLimit          int
	PlanHeader           string
	ServiceAreaURL       string
	ServiceAreaChunkSize int
	ServiceAreaTimeout   time.Duration
	SessionIdleTimeout   time.Duration
	LogLevel             slog.Level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "census.db")
	v.SetDefault("allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("page_size", 10)
	v.SetDefault("upload_limit", 5000)
	v.SetDefault("plan_header", "plans")
	v.SetDefault("service_area_url", "")
	v.SetDefault("service_area_chunk_size", 50)
	v.SetDefault("service_area_timeout", "10s")
	v.SetDefault("session_idle_timeout", "1h")
	v.SetDefault("log_level", "info")
}

// Load reads settings from defaults, the optional file at path and the
// environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("census")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                 v.GetInt("port"),
		DBPath:               v.GetString("db_path"),
		AllowedOrigins:       v.GetStringSlice("allowed_origins"),
		PageSize:             v.GetInt("page_size"),
		UploadLimit:          v.GetInt("upload_limit"),
		PlanHeader:           v.GetString("plan_header"),
		ServiceAreaURL:       v.GetString("service_area_url"),
		ServiceAreaChunkSize: v.GetInt("service_area_chunk_size"),
		ServiceAreaTimeout:   v.GetDuration("service_area_timeout"),
		SessionIdleTimeout:   v.GetDuration("session_idle_timeout"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("invalid log_level: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.DBPath == "":
		return fmt.Errorf("db_path is required")
	case c.PageSize <= 0:
		return fmt.Errorf("page_size must be positive")
	case c.UploadLimit < 0:
		return fmt.Errorf("upload_limit must not be negative")
	case c.ServiceAreaChunkSize <= 0:
		return fmt.Errorf("service_area_chunk_size must be positive")
	}
	return nil
}
