package domain

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadConfig builds the effective configuration: tier defaults, overlaid
// with an optional YAML file, overlaid with environment overrides. The
// engine policy is validated before the config is returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern KESTREL_<SECTION>_<KEY>.
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("KESTREL_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("KESTREL_SERVER_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid KESTREL_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if val := os.Getenv("KESTREL_REPOSITORY_DRIVER"); val != "" {
		cfg.Repository.Driver = val
	}
	if val := os.Getenv("KESTREL_SQLITE_PATH"); val != "" {
		cfg.Repository.SQLitePath = val
	}
	if val := os.Getenv("KESTREL_POSTGRES_HOST"); val != "" {
		cfg.Repository.PostgresHost = val
	}
	if val := os.Getenv("KESTREL_POSTGRES_PASSWORD"); val != "" {
		cfg.Repository.PostgresPassword = val
	}
	if val := os.Getenv("KESTREL_REDIS_ADDR"); val != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = val
	}
	if val := os.Getenv("KESTREL_NATS_URL"); val != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = val
	}
	if val := os.Getenv("KESTREL_ML_WEIGHT"); val != "" {
		w, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid KESTREL_ML_WEIGHT: %w", err)
		}
		cfg.Engine.MLWeight = w
	}
	if val := os.Getenv("KESTREL_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	return nil
}
