// Package task defines the canonical identity, descriptor, and in-memory
// shape of a unit of work flowing through the agent: a GitHub issue/pull
// request or a GitLab issue/merge request carrying the bot label.
package task

import (
	"encoding/json"
	"fmt"
)

// Source identifies which forge a TaskKey belongs to.
type Source string

const (
	SourceGitHub Source = "github"
	SourceGitLab Source = "gitlab"
)

// Kind identifies whether a key refers to an issue or a change request.
type Kind string

const (
	KindIssue         Kind = "issue"
	KindChangeRequest Kind = "change_request"
)

// Key uniquely identifies a work item, stable across retries and across the
// polling/webhook ingress paths. It is a tagged record: Source and Kind
// together select which of Owner/Repo/Number (GitHub) or ProjectID/IID
// (GitLab) are populated — equality and hashing are over all fields, and
// GitHub/GitLab keys are disjoint by construction.
type Key struct {
	Source Source `json:"source"`
	Kind   Kind   `json:"kind"`

	// GitHub fields.
	Owner  string `json:"owner,omitempty"`
	Repo   string `json:"repo,omitempty"`
	Number int    `json:"number,omitempty"`

	// GitLab fields.
	ProjectID int `json:"project_id,omitempty"`
	IID       int `json:"iid,omitempty"`
}

// GitHubIssue builds a Key for a GitHub issue.
func GitHubIssue(owner, repo string, number int) Key {
	return Key{Source: SourceGitHub, Kind: KindIssue, Owner: owner, Repo: repo, Number: number}
}

// GitHubPullRequest builds a Key for a GitHub pull request.
func GitHubPullRequest(owner, repo string, number int) Key {
	return Key{Source: SourceGitHub, Kind: KindChangeRequest, Owner: owner, Repo: repo, Number: number}
}

// GitLabIssue builds a Key for a GitLab issue.
func GitLabIssue(projectID, iid int) Key {
	return Key{Source: SourceGitLab, Kind: KindIssue, ProjectID: projectID, IID: iid}
}

// GitLabChangeRequest builds a Key for a GitLab merge request.
func GitLabChangeRequest(projectID, iid int) Key {
	return Key{Source: SourceGitLab, Kind: KindChangeRequest, ProjectID: projectID, IID: iid}
}

// String renders a stable, human-readable identifier used as the dedup/
// checkpoint key (TaskKey is "embedded in queue messages and used as dedup
// keys" per the task-lifecycle contract).
func (k Key) String() string {
	switch k.Source {
	case SourceGitHub:
		return fmt.Sprintf("github/%s/%s/%s/%d", k.Owner, k.Repo, k.Kind, k.Number)
	case SourceGitLab:
		return fmt.Sprintf("gitlab/%d/%s/%d", k.ProjectID, k.Kind, k.IID)
	default:
		return fmt.Sprintf("unknown/%s/%s", k.Source, k.Kind)
	}
}

// IsChangeRequest reports whether the key refers to a pull/merge request
// rather than an issue.
func (k Key) IsChangeRequest() bool { return k.Kind == KindChangeRequest }

// MarshalJSON implements a tagged-record encoding: {"type": "...", ...fields}.
func (k Key) MarshalJSON() ([]byte, error) {
	type alias Key
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: string(k.Source) + "." + string(k.Kind), alias: alias(k)})
}
