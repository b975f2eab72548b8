// Package gitlab implements the forge.Client capability set against the
// GitLab REST API via xanzy/go-gitlab.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	glapi "github.com/xanzy/go-gitlab"

	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/task"
)

// Client adapts go-gitlab to forge.Client.
type Client struct {
	gl      *glapi.Client
	timeout time.Duration
}

// New builds a GitLab client authenticated with a personal access token
// against baseURL (empty uses gitlab.com; self-hosted deployments set
// GITLAB_API_URL).
func New(token, baseURL string) (*Client, error) {
	opts := []glapi.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, glapi.WithBaseURL(baseURL))
	}
	gl, err := glapi.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("gitlab: new client: %w", err)
	}
	return &Client{gl: gl, timeout: forge.DefaultRequestTimeout}, nil
}

var _ forge.Client = (*Client)(nil)

func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("gitlab %s: %w: %v", op, forge.ErrTransient, err)
}

func (c *Client) RepoOf(key task.Key) forge.RepoRef {
	return forge.RepoRef{ProjectID: key.ProjectID}
}

func (c *Client) DefaultBranch(ctx context.Context, repo forge.RepoRef) (string, error) {
	proj, _, err := c.gl.Projects.GetProject(repo.ProjectID, nil, glapi.WithContext(ctx))
	if err != nil {
		return "", wrapTransient("get project", err)
	}
	return proj.DefaultBranch, nil
}

func (c *Client) ListItemsWithLabel(ctx context.Context, repo forge.RepoRef, label string, state forge.ItemState) ([]task.Descriptor, error) {
	var out []task.Descriptor
	st := "opened"
	if state == forge.ItemStateClosed {
		st = "closed"
	}

	issueOpts := &glapi.ListProjectIssuesOptions{
		Labels:      &glapi.LabelOptions{label},
		State:       &st,
		ListOptions: glapi.ListOptions{PerPage: 100},
	}
	for {
		issues, resp, err := c.gl.Issues.ListProjectIssues(repo.ProjectID, issueOpts, glapi.WithContext(ctx))
		if err != nil {
			return nil, wrapTransient("list issues", err)
		}
		for _, it := range issues {
			out = append(out, task.Descriptor{Key: task.GitLabIssue(repo.ProjectID, it.IID)})
		}
		if resp.NextPage == 0 {
			break
		}
		issueOpts.Page = resp.NextPage
	}

	mrOpts := &glapi.ListProjectMergeRequestsOptions{
		Labels:      &glapi.LabelOptions{label},
		State:       &st,
		ListOptions: glapi.ListOptions{PerPage: 100},
	}
	for {
		mrs, resp, err := c.gl.MergeRequests.ListProjectMergeRequests(repo.ProjectID, mrOpts, glapi.WithContext(ctx))
		if err != nil {
			return nil, wrapTransient("list merge requests", err)
		}
		for _, mr := range mrs {
			out = append(out, task.Descriptor{Key: task.GitLabChangeRequest(repo.ProjectID, mr.IID)})
		}
		if resp.NextPage == 0 {
			break
		}
		mrOpts.Page = resp.NextPage
	}

	return out, nil
}

func (c *Client) GetItem(ctx context.Context, key task.Key) (string, string, string, []string, map[string]any, error) {
	if key.IsChangeRequest() {
		mr, _, err := c.gl.MergeRequests.GetMergeRequest(key.ProjectID, key.IID, nil, glapi.WithContext(ctx))
		if err != nil {
			return "", "", "", nil, nil, wrapTransient("get merge request", err)
		}
		raw := toRawMap(mr)
		return mr.Title, mr.Description, mr.Author.Username, mr.Labels, raw, nil
	}

	issue, _, err := c.gl.Issues.GetIssue(key.ProjectID, key.IID, glapi.WithContext(ctx))
	if err != nil {
		return "", "", "", nil, nil, wrapTransient("get issue", err)
	}
	raw := toRawMap(issue)
	return issue.Title, issue.Description, issue.Author.Username, issue.Labels, raw, nil
}

func toRawMap(v any) map[string]any {
	raw := map[string]any{}
	if b, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(b, &raw)
		forge.StripURLFields(raw)
	}
	return raw
}

func (c *Client) GetComments(ctx context.Context, key task.Key) ([]task.Comment, error) {
	var out []task.Comment

	if key.IsChangeRequest() {
		notes, _, err := c.gl.Notes.ListMergeRequestNotes(key.ProjectID, key.IID, &glapi.ListMergeRequestNotesOptions{
			ListOptions: glapi.ListOptions{PerPage: 100},
		}, glapi.WithContext(ctx))
		if err != nil {
			return nil, wrapTransient("list merge request notes", err)
		}
		for _, n := range notes {
			if n.System {
				continue
			}
			kind := task.CommentKindIssueComment
			if n.Type == "DiffNote" {
				kind = task.CommentKindInlineReview
			}
			out = append(out, task.Comment{
				ID:        fmt.Sprintf("%d", n.ID),
				Author:    n.Author.Username,
				Body:      n.Body,
				CreatedAt: *n.CreatedAt,
				Kind:      kind,
			})
		}
	} else {
		notes, _, err := c.gl.Notes.ListIssueNotes(key.ProjectID, key.IID, &glapi.ListIssueNotesOptions{
			ListOptions: glapi.ListOptions{PerPage: 100},
		}, glapi.WithContext(ctx))
		if err != nil {
			return nil, wrapTransient("list issue notes", err)
		}
		for _, n := range notes {
			if n.System {
				continue
			}
			out = append(out, task.Comment{
				ID:        fmt.Sprintf("%d", n.ID),
				Author:    n.Author.Username,
				Body:      n.Body,
				CreatedAt: *n.CreatedAt,
				Kind:      task.CommentKindIssueComment,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) Comment(ctx context.Context, key task.Key, body string) error {
	var err error
	if key.IsChangeRequest() {
		_, _, err = c.gl.Notes.CreateMergeRequestNote(key.ProjectID, key.IID, &glapi.CreateMergeRequestNoteOptions{Body: &body}, glapi.WithContext(ctx))
	} else {
		_, _, err = c.gl.Notes.CreateIssueNote(key.ProjectID, key.IID, &glapi.CreateIssueNoteOptions{Body: &body}, glapi.WithContext(ctx))
	}
	return wrapTransient("comment", err)
}

func (c *Client) currentLabels(ctx context.Context, key task.Key) ([]string, error) {
	_, _, _, labels, _, err := c.GetItem(ctx, key)
	return labels, err
}

func (c *Client) AddLabel(ctx context.Context, key task.Key, name string) error {
	labels, err := c.currentLabels(ctx, key)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if l == name {
			return nil
		}
	}
	return c.SetLabels(ctx, key, append(labels, name))
}

func (c *Client) RemoveLabel(ctx context.Context, key task.Key, name string) error {
	labels, err := c.currentLabels(ctx, key)
	if err != nil {
		return err
	}
	filtered := labels[:0]
	for _, l := range labels {
		if l != name {
			filtered = append(filtered, l)
		}
	}
	return c.SetLabels(ctx, key, filtered)
}

func (c *Client) SetLabels(ctx context.Context, key task.Key, names []string) error {
	labelOpt := glapi.LabelOptions(names)
	var err error
	if key.IsChangeRequest() {
		_, _, err = c.gl.MergeRequests.UpdateMergeRequest(key.ProjectID, key.IID, &glapi.UpdateMergeRequestOptions{
			Labels: &labelOpt,
		}, glapi.WithContext(ctx))
	} else {
		_, _, err = c.gl.Issues.UpdateIssue(key.ProjectID, key.IID, &glapi.UpdateIssueOptions{
			Labels: &labelOpt,
		}, glapi.WithContext(ctx))
	}
	return wrapTransient("set labels", err)
}

func (c *Client) ListBranches(ctx context.Context, repo forge.RepoRef) ([]forge.Branch, error) {
	var out []forge.Branch
	opts := &glapi.ListBranchesOptions{ListOptions: glapi.ListOptions{PerPage: 100}}
	for {
		branches, resp, err := c.gl.Branches.ListBranches(repo.ProjectID, opts, glapi.WithContext(ctx))
		if err != nil {
			return nil, wrapTransient("list branches", err)
		}
		for _, b := range branches {
			out = append(out, forge.Branch{Name: b.Name, SHA: b.Commit.ID})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) CreateBranch(ctx context.Context, repo forge.RepoRef, name, fromRef string) error {
	_, _, err := c.gl.Branches.CreateBranch(repo.ProjectID, &glapi.CreateBranchOptions{
		Branch: &name,
		Ref:    &fromRef,
	}, glapi.WithContext(ctx))
	return wrapTransient("create branch", err)
}

// CreateOrEmptyCommit uses GitLab's commit-actions API, whose action list
// allows an empty "no-op" via a marker-file create — mirrored on both
// forges for implementation symmetry rather than relying on GitLab's less
// consistently available empty-commit support (see DESIGN.md).
func (c *Client) CreateOrEmptyCommit(ctx context.Context, repo forge.RepoRef, branch, message string) error {
	path := fmt.Sprintf(".agent/seed-%d.keep", time.Now().UnixNano())
	content := "seed commit\n"
	action := "create"
	_, _, err := c.gl.Commits.CreateCommit(repo.ProjectID, &glapi.CreateCommitOptions{
		Branch:        &branch,
		CommitMessage: &message,
		Actions: []*glapi.CommitActionOptions{
			{Action: (*glapi.FileActionValue)(&action), FilePath: &path, Content: &content},
		},
	}, glapi.WithContext(ctx))
	return wrapTransient("create seed commit", err)
}

func (c *Client) OpenChangeRequest(ctx context.Context, repo forge.RepoRef, head, base, title, body string, draft bool) (forge.ChangeRequestRef, error) {
	if draft {
		title = "Draft: " + title
	}
	mr, _, err := c.gl.MergeRequests.CreateMergeRequest(repo.ProjectID, &glapi.CreateMergeRequestOptions{
		Title:        &title,
		Description:  &body,
		SourceBranch: &head,
		TargetBranch: &base,
	}, glapi.WithContext(ctx))
	if err != nil {
		return forge.ChangeRequestRef{}, wrapTransient("open merge request", err)
	}
	return forge.ChangeRequestRef{Number: mr.IID, URL: mr.WebURL}, nil
}

func (c *Client) UpdateChangeRequest(ctx context.Context, key task.Key, body *string, labels []string, assignees []string) error {
	opts := &glapi.UpdateMergeRequestOptions{}
	if body != nil {
		opts.Description = body
	}
	if len(labels) > 0 {
		l := glapi.LabelOptions(labels)
		opts.AddLabels = &l
	}
	if len(assignees) > 0 {
		ids := make([]int, 0, len(assignees))
		for _, a := range assignees {
			id, err := c.ResolveUserID(ctx, a)
			if err != nil {
				return err
			}
			var n int
			if _, scanErr := fmt.Sscanf(id, "%d", &n); scanErr == nil {
				ids = append(ids, n)
			}
		}
		opts.AssigneeIDs = &ids
	}
	_, _, err := c.gl.MergeRequests.UpdateMergeRequest(key.ProjectID, key.IID, opts, glapi.WithContext(ctx))
	return wrapTransient("update merge request", err)
}

func (c *Client) DeleteBranch(ctx context.Context, repo forge.RepoRef, name string) error {
	_, err := c.gl.Branches.DeleteBranch(repo.ProjectID, name, glapi.WithContext(ctx))
	return wrapTransient("delete branch", err)
}

// ResolveUserID looks up a GitLab numeric user ID for a username — required
// for assignment, unlike GitHub which accepts usernames directly.
func (c *Client) ResolveUserID(ctx context.Context, username string) (string, error) {
	users, _, err := c.gl.Users.ListUsers(&glapi.ListUsersOptions{Username: &username}, glapi.WithContext(ctx))
	if err != nil {
		return "", wrapTransient("resolve user id", err)
	}
	if len(users) == 0 {
		return "", fmt.Errorf("gitlab: no user found for username %q", username)
	}
	return fmt.Sprintf("%d", users[0].ID), nil
}
