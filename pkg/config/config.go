// Package config implements a YAML file merged onto built-in defaults,
// with environment-variable expansion and validation: load, merge,
// validate.
package config

// Config is the fully loaded and validated application configuration.
type Config struct {
	configDir string

	Targets   []TargetConfig  `yaml:"targets"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Producer  ProducerConfig  `yaml:"producer"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	API       APIServerConfig `yaml:"api_server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// ConfigDir returns the directory Config was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Targets int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{Targets: len(c.Targets)}
}

// TargetsBySource groups the configured targets by forge source.
func (c *Config) TargetsBySource() map[string][]TargetConfig {
	out := make(map[string][]TargetConfig)
	for _, t := range c.Targets {
		out[string(t.Source)] = append(out[string(t.Source)], t)
	}
	return out
}
