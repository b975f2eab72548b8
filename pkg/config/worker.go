package config

import "time"

// WorkerConfig tunes the consumer/worker pool.
type WorkerConfig struct {
	WorkerCount int `yaml:"worker_count"`

	// MinInterval is the minimum gap a single worker leaves between
	// finishing one task and starting the next, independent of queue depth.
	MinInterval time.Duration `yaml:"min_interval,omitempty"`

	// ConvertIssues routes issue-kind tasks through the converter
	// before the dialogue, rather than running the dialogue directly.
	ConvertIssues bool `yaml:"convert_issues"`

	// BotUsername identifies the bot's own forge account so comment
	// detection can ignore the bot's own comments. Empty disables
	// comment detection entirely.
	BotUsername string `yaml:"bot_username,omitempty"`

	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`
	OrphanThreshold     time.Duration `yaml:"orphan_threshold"`
}
