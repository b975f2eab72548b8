package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads agentd.yaml from configDir, expands environment
// variables, merges the result onto the built-in defaults, validates, and
// returns a ready-to-use Config. This is the primary entry point for
// configuration loading.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration loaded", "targets", stats.Targets)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "agentd.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, NewLoadError("agentd.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := defaultConfig()
	cfg.Targets = user.Targets
	if err := mergo.Merge(&cfg.Queue, user.Queue, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge queue config: %w", err)
	}
	if err := mergo.Merge(&cfg.Worker, user.Worker, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge worker config: %w", err)
	}
	if err := mergo.Merge(&cfg.Producer, user.Producer, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge producer config: %w", err)
	}
	// mergo does not copy a false over the default true; read the flag explicitly.
	var flags struct {
		Producer struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"producer"`
	}
	if err := yaml.Unmarshal(data, &flags); err == nil && flags.Producer.Enabled != nil {
		cfg.Producer.Enabled = *flags.Producer.Enabled
	}
	if err := mergo.Merge(&cfg.Dialogue, user.Dialogue, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge dialogue config: %w", err)
	}
	if err := mergo.Merge(&cfg.Webhook, user.Webhook, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge webhook config: %w", err)
	}
	if err := mergo.Merge(&cfg.API, user.API, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge api_server config: %w", err)
	}
	if err := mergo.Merge(&cfg.Heartbeat, user.Heartbeat, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge heartbeat config: %w", err)
	}
	cfg.configDir = configDir
	return cfg, nil
}
