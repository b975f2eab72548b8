package config

import "time"

// ProducerConfig tunes the periodic polling loop. It only matters when
// webhook ingress is unavailable or disabled; Enabled lets an operator turn
// polling off entirely in a pure-webhook deployment.
type ProducerConfig struct {
	Enabled bool `yaml:"enabled"`

	// PollInterval drives Loop.RunFixedInterval. Ignored when CronSchedule
	// is set.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// CronSchedule, if set, drives Loop.RunCron instead of a fixed interval
	// (standard 5-field cron syntax).
	CronSchedule string `yaml:"cron_schedule,omitempty"`
}
