package config

import (
	"fmt"

	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/task"
)

// TargetConfig names one repository (GitHub) or project (GitLab) to poll for
// the bot label and to accept webhooks for.
type TargetConfig struct {
	Source    task.Source `yaml:"source"`
	Owner     string      `yaml:"owner,omitempty"`     // GitHub
	Repo      string      `yaml:"repo,omitempty"`      // GitHub
	ProjectID int         `yaml:"project_id,omitempty"` // GitLab
	BotLabel  string      `yaml:"bot_label"`
}

// RepoRef converts the target into the repo/project handle the forge
// adapters and producer loop key off of.
func (t TargetConfig) RepoRef() forge.RepoRef {
	return forge.RepoRef{Owner: t.Owner, Repo: t.Repo, ProjectID: t.ProjectID}
}

func (t TargetConfig) validate() error {
	switch t.Source {
	case task.SourceGitHub:
		if t.Owner == "" || t.Repo == "" {
			return fmt.Errorf("%w: github target requires owner and repo", ErrMissingRequiredField)
		}
	case task.SourceGitLab:
		if t.ProjectID == 0 {
			return fmt.Errorf("%w: gitlab target requires project_id", ErrMissingRequiredField)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidValue, t.Source)
	}
	if t.BotLabel == "" {
		return fmt.Errorf("%w: bot_label is required", ErrMissingRequiredField)
	}
	return nil
}
