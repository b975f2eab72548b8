// Package forge defines the capability set that normalizes GitHub and
// GitLab behind one interface: list labelled items, fetch comments, manage
// labels, and drive the branch/commit/change-request workflow the converter
// needs. Concrete implementations live in pkg/forge/github and
// pkg/forge/gitlab.
package forge

import (
	"context"
	"errors"
	"time"

	"github.com/agentforge/agentd/pkg/task"
)

// DefaultRequestTimeout bounds every forge REST call (§6: "bounded request
// timeout, default 30s").
const DefaultRequestTimeout = 30 * time.Second

// ErrTransient is wrapped around every error the GitHub and GitLab clients
// return from a forge call. Forge calls are not retried: callers log or
// propagate the error as-is.
var ErrTransient = errors.New("forge: transient error")

// RepoRef identifies a repository (GitHub owner/repo) or project (GitLab
// numeric project ID) independent of item number.
type RepoRef struct {
	Owner     string // GitHub
	Repo      string // GitHub
	ProjectID int    // GitLab
}

// Branch is a minimal branch listing entry.
type Branch struct {
	Name string
	SHA  string
}

// ChangeRequestRef is returned by OpenChangeRequest.
type ChangeRequestRef struct {
	Number int
	URL    string
}

// ItemState filters list_items_with_label by open/closed state.
type ItemState string

const (
	ItemStateOpen   ItemState = "open"
	ItemStateClosed ItemState = "closed"
)

// Client is the full forge capability set (§4.1). GitHub and GitLab
// implementations satisfy this identically; task.ForgeClient is the subset
// Task itself needs and is satisfied structurally by Client.
type Client interface {
	task.ForgeClient

	// ListItemsWithLabel returns every issue/change-request carrying label
	// in the given state within repo, as descriptors ready for TaskKey
	// construction. The producer loop calls this once per configured
	// repo/project.
	ListItemsWithLabel(ctx context.Context, repo RepoRef, label string, state ItemState) ([]task.Descriptor, error)

	// GetItem re-fetches the full item for key (title, body, author, labels).
	GetItem(ctx context.Context, key task.Key) (title, body, author string, labels []string, raw map[string]any, err error)

	SetLabels(ctx context.Context, key task.Key, names []string) error

	ListBranches(ctx context.Context, repo RepoRef) ([]Branch, error)
	CreateBranch(ctx context.Context, repo RepoRef, name, fromRef string) error
	// CreateOrEmptyCommit seeds a branch with a marker commit so the
	// change-request is openable immediately (§4.1: ".gitkeep-style marker").
	CreateOrEmptyCommit(ctx context.Context, repo RepoRef, branch, message string) error
	OpenChangeRequest(ctx context.Context, repo RepoRef, head, base, title, body string, draft bool) (ChangeRequestRef, error)
	UpdateChangeRequest(ctx context.Context, key task.Key, body *string, labels []string, assignees []string) error
	DeleteBranch(ctx context.Context, repo RepoRef, name string) error

	// ResolveUserID looks up a forge-internal user id for a username.
	// Only meaningful on GitLab (assignment needs numeric IDs); GitHub
	// implementations return the username unchanged.
	ResolveUserID(ctx context.Context, username string) (string, error)

	// RepoOf extracts the RepoRef a key belongs to, for converter use.
	RepoOf(key task.Key) RepoRef

	// DefaultBranch returns the repository's base branch name ("main" by
	// convention unless the forge reports otherwise).
	DefaultBranch(ctx context.Context, repo RepoRef) (string, error)
}
