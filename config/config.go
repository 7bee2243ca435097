// Package config loads the bootstrap configuration: everything the process
// needs before it can reach the database. Runtime-tunable settings live in
// the settings table instead.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bootstrap configuration
type Config struct {
	ServerPort       string `yaml:"server_port"`
	DatabaseURL      string `yaml:"database_url"`
	LogLevel         string `yaml:"log_level"`
	DataDir          string `yaml:"data_dir"`
	CondaBin         string `yaml:"conda_bin"`
	VisualizationBin string `yaml:"visualization_bin"`
	EnableDocker     bool   `yaml:"enable_docker"`
}

// Load builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE, default ./training-manager.yaml) and environment variable
// overrides, in that order.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:       "8080",
		DatabaseURL:      "postgres://localhost/training_manager?sslmode=disable",
		LogLevel:         "info",
		DataDir:          "./data",
		CondaBin:         "conda",
		VisualizationBin: "tensorboard",
	}

	path := getEnv("CONFIG_FILE", "./training-manager.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.CondaBin = getEnv("CONDA_BIN", cfg.CondaBin)
	cfg.VisualizationBin = getEnv("VISUALIZATION_BIN", cfg.VisualizationBin)
	if v := os.Getenv("ENABLE_DOCKER"); v != "" {
		cfg.EnableDocker = parseBool(v)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
