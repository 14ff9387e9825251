// Package config loads application configuration from config.yaml and the
// RECOVERY_ environment, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Events      EventsConfig      `yaml:"events" mapstructure:"events"`
	Detect      DetectConfig      `yaml:"detect" mapstructure:"detect"`
	Valuation   ValuationConfig   `yaml:"valuation" mapstructure:"valuation"`
	FX          FXConfig          `yaml:"fx" mapstructure:"fx"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and tunes the result store backend.
type StoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // postgres | sqlite
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// EventsConfig points at the event warehouse.
type EventsConfig struct {
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	LookbackDays int    `yaml:"lookback_days" mapstructure:"lookback_days"`
}

// DetectConfig tunes the detector engine.
type DetectConfig struct {
	DefaultUnitValue float64 `yaml:"default_unit_value" mapstructure:"default_unit_value"`
	HomeCurrency     string  `yaml:"home_currency" mapstructure:"home_currency"`
}

// ValuationConfig tunes the claim value calculator.
type ValuationConfig struct {
	FeeScheduleFile string `yaml:"fee_schedule_file" mapstructure:"fee_schedule_file"`
	InvoiceFile     string `yaml:"invoice_file" mapstructure:"invoice_file"`
	TargetCurrency  string `yaml:"target_currency" mapstructure:"target_currency"`
}

// FXConfig tunes the exchange-rate resolver.
type FXConfig struct {
	ProviderURL   string  `yaml:"provider_url" mapstructure:"provider_url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RedisAddr     string  `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string  `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int     `yaml:"redis_db" mapstructure:"redis_db"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// CalibrationConfig tunes the confidence calibrator.
type CalibrationConfig struct {
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// LogConfig controls the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json | console
}

// Load reads config.yaml from the working directory (optional) and the
// RECOVERY_ environment, applying defaults for everything unset.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "recovery.db")
	v.SetDefault("events.lookback_days", 365)
	v.SetDefault("detect.default_unit_value", 20.0)
	v.SetDefault("detect.home_currency", "USD")
	v.SetDefault("valuation.target_currency", "USD")
	v.SetDefault("fx.provider_url", "https://api.frankfurter.dev/v1")
	v.SetDefault("fx.timeout_secs", 5)
	v.SetDefault("fx.rate_per_second", 5.0)
	v.SetDefault("fx.cache_ttl_hours", 720)
	v.SetDefault("calibration.cache_ttl_minutes", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger builds the global zap logger from config and installs it via
// zap.ReplaceGlobals.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
