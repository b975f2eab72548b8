package config

// WebhookConfig tunes the webhook ingress HTTP server. The secret/token
// fields name an environment variable to read the value from rather than
// carrying the value itself, matching how the rest of this system keeps
// bearer tokens and signing secrets out of YAML.
type WebhookConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	GitHubSecretEnv string `yaml:"github_secret_env,omitempty"`
	GitHubBotLabel  string `yaml:"github_bot_label,omitempty"`

	GitLabTokenEnv           string `yaml:"gitlab_token_env,omitempty"`
	GitLabSystemHookTokenEnv string `yaml:"gitlab_system_hook_token_env,omitempty"`
	GitLabBotLabel           string `yaml:"gitlab_bot_label,omitempty"`
}
