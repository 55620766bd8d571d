// Package config loads runtime configuration from app.env files and the
// environment, with defaults suitable for local development.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Path string
}

type BillingConfig struct {
	CompanyID    string
	NumberPrefix string // bill numbers render as prefix + zero-padded sequence
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Billing     BillingConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			Path: v.GetString("DB_PATH"),
		},
		Billing: BillingConfig{
			CompanyID:    v.GetString("BILLING_COMPANY_ID"),
			NumberPrefix: v.GetString("BILLING_NUMBER_PREFIX"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.DB.Path == "" {
		cfg.DB.Path = "care.db"
	}
	if cfg.Billing.NumberPrefix == "" {
		cfg.Billing.NumberPrefix = "FACT-"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Billing.CompanyID == "" {
		return fmt.Errorf("BILLING_COMPANY_ID is required")
	}
	return nil
}
