// Package config содержит логику чтения конфигурации сервиса групповой лояльности.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса групповой лояльности.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	ShopDirectoryAddress string `env:"SHOP_DIRECTORY_ADDRESS"`
	IdentitySecret       string `env:"IDENTITY_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envShopDirectory := cfg.ShopDirectoryAddress
	envIdentitySecret := cfg.IdentitySecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ShopDirectoryAddress, "r", "", "shop directory address")
	flag.StringVar(&cfg.IdentitySecret, "k", "", "identity cookie signing key")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envShopDirectory != "" {
		cfg.ShopDirectoryAddress = envShopDirectory
	}
	if envIdentitySecret != "" {
		cfg.IdentitySecret = envIdentitySecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
