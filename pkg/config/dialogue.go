package config

// DialogueConfig tunes the bounded LLM dialogue loop. Fields left unset in
// agentd.yaml keep the values from defaultConfig; of the rest, a zero
// MaxRetries, MaxParseRetries or MaxTurns falls back to dialogue.Options'
// built-in defaults, while Model, Temperature, MaxTokens and the prompts are
// passed through as given.
type DialogueConfig struct {
	Model                   string  `yaml:"model,omitempty"`
	Temperature             float64 `yaml:"temperature,omitempty"`
	MaxTokens               int     `yaml:"max_tokens,omitempty"`
	MaxRetries              int     `yaml:"max_retries,omitempty"`
	MaxParseRetries         int     `yaml:"max_parse_retries,omitempty"`
	MaxTurns                int     `yaml:"max_turns,omitempty"`
	SystemPrompt            string  `yaml:"system_prompt,omitempty"`
	FirstUserPromptTemplate string  `yaml:"first_user_prompt_template,omitempty"`
}
