// Package config содержит логику чтения конфигурации сервиса приёма заявок.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultSelectionPolicy   = "priority"
	defaultAdmissionInterval = time.Minute
)

// Config содержит параметры конфигурации сервиса приёма заявок.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	SelectionPolicy   string        `env:"SELECTION_POLICY"`
	AdmissionInterval time.Duration `env:"ADMISSION_INTERVAL"`
	AuthSecret        string        `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SelectionPolicy, "p", defaultSelectionPolicy, "selection policy: priority or registration")
	flag.DurationVar(&cfg.AdmissionInterval, "i", defaultAdmissionInterval, "interval of the admission scheduler, 0 disables it")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth cookies")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.SelectionPolicy != "" {
		cfg.SelectionPolicy = envCfg.SelectionPolicy
	}
	if envCfg.AdmissionInterval != 0 {
		cfg.AdmissionInterval = envCfg.AdmissionInterval
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.AdmissionInterval < 0 {
		return nil, fmt.Errorf("admission interval must not be negative: %s", cfg.AdmissionInterval)
	}

	return cfg, nil
}
