package config

import "time"

// defaultConfig returns the built-in configuration used as the merge base
// for whatever an operator supplies in agentd.yaml.
func defaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Backend:  QueueBackendMemory,
			Capacity: 100,
		},
		Worker: WorkerConfig{
			WorkerCount:         3,
			OrphanSweepInterval: 5 * time.Minute,
			OrphanThreshold:     10 * time.Minute,
		},
		Producer: ProducerConfig{
			Enabled:      true,
			PollInterval: 1 * time.Minute,
		},
		Dialogue: DialogueConfig{
			MaxTokens:       4096,
			MaxRetries:      5,
			MaxParseRetries: 5,
			MaxTurns:        50,
		},
		Webhook: WebhookConfig{
			ListenAddr:      ":8080",
			GitHubSecretEnv: "GITHUB_WEBHOOK_SECRET",
			GitLabTokenEnv:  "GITLAB_WEBHOOK_TOKEN",
		},
		API: APIServerConfig{
			ListenAddr: ":8081",
			APIKeyEnv:  "API_SERVER_KEY",
		},
		Heartbeat: HeartbeatConfig{
			Dir:  "/tmp/agentd",
			Role: "worker",
		},
	}
}
