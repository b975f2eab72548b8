// Package github implements the forge.Client capability set against the
// GitHub REST API via google/go-github.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	ghapi "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/task"
)

// Client adapts go-github to forge.Client.
type Client struct {
	gh      *ghapi.Client
	timeout time.Duration
}

// New builds a GitHub client authenticated with a personal access token,
// carried as a static OAuth2 bearer token on every request.
func New(token string) *Client {
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	httpClient.Timeout = forge.DefaultRequestTimeout
	gh := ghapi.NewClient(httpClient)
	return &Client{gh: gh, timeout: forge.DefaultRequestTimeout}
}

var _ forge.Client = (*Client)(nil)

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("github %s: %w: %v", op, forge.ErrTransient, err)
}

// RepoOf extracts owner/repo from a GitHub-variant key.
func (c *Client) RepoOf(key task.Key) forge.RepoRef {
	return forge.RepoRef{Owner: key.Owner, Repo: key.Repo}
}

func (c *Client) DefaultBranch(ctx context.Context, repo forge.RepoRef) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	r, _, err := c.gh.Repositories.Get(ctx, repo.Owner, repo.Repo)
	if err != nil {
		return "", wrapTransient("get repo", err)
	}
	return r.GetDefaultBranch(), nil
}

func (c *Client) ListItemsWithLabel(ctx context.Context, repo forge.RepoRef, label string, state forge.ItemState) ([]task.Descriptor, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := &ghapi.IssueListByRepoOptions{
		Labels: []string{label},
		State:  string(state),
		ListOptions: ghapi.ListOptions{
			PerPage: 100,
		},
	}

	var out []task.Descriptor
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, repo.Owner, repo.Repo, opts)
		if err != nil {
			return nil, wrapTransient("list issues", err)
		}
		for _, it := range issues {
			kind := task.KindIssue
			if it.IsPullRequest() {
				kind = task.KindChangeRequest
			}
			key := task.Key{Source: task.SourceGitHub, Kind: kind, Owner: repo.Owner, Repo: repo.Repo, Number: it.GetNumber()}
			out = append(out, task.Descriptor{Key: key})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) GetItem(ctx context.Context, key task.Key) (string, string, string, []string, map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	issue, _, err := c.gh.Issues.Get(ctx, key.Owner, key.Repo, key.Number)
	if err != nil {
		return "", "", "", nil, nil, wrapTransient("get item", err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	raw := map[string]any{}
	if b, err := json.Marshal(issue); err == nil {
		_ = json.Unmarshal(b, &raw)
		forge.StripURLFields(raw)
	}

	return issue.GetTitle(), issue.GetBody(), issue.GetUser().GetLogin(), labels, raw, nil
}

func (c *Client) GetComments(ctx context.Context, key task.Key) ([]task.Comment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out []task.Comment

	issueComments, _, err := c.gh.Issues.ListComments(ctx, key.Owner, key.Repo, key.Number, &ghapi.IssueListCommentsOptions{
		ListOptions: ghapi.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapTransient("list issue comments", err)
	}
	for _, ic := range issueComments {
		out = append(out, task.Comment{
			ID:        fmt.Sprintf("%d", ic.GetID()),
			Author:    ic.GetUser().GetLogin(),
			Body:      ic.GetBody(),
			CreatedAt: ic.GetCreatedAt().Time,
			Kind:      task.CommentKindIssueComment,
		})
	}

	if key.IsChangeRequest() {
		reviewComments, _, err := c.gh.PullRequests.ListComments(ctx, key.Owner, key.Repo, key.Number, &ghapi.PullRequestListCommentsOptions{
			ListOptions: ghapi.ListOptions{PerPage: 100},
		})
		if err != nil {
			return nil, wrapTransient("list review comments", err)
		}
		for _, rc := range reviewComments {
			out = append(out, task.Comment{
				ID:        fmt.Sprintf("%d", rc.GetID()),
				Author:    rc.GetUser().GetLogin(),
				Body:      rc.GetBody(),
				CreatedAt: rc.GetCreatedAt().Time,
				Kind:      task.CommentKindInlineReview,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) Comment(ctx context.Context, key task.Key, body string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, _, err := c.gh.Issues.CreateComment(ctx, key.Owner, key.Repo, key.Number, &ghapi.IssueComment{Body: &body})
	return wrapTransient("comment", err)
}

func (c *Client) AddLabel(ctx context.Context, key task.Key, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, _, err := c.gh.Issues.AddLabelsToIssue(ctx, key.Owner, key.Repo, key.Number, []string{name})
	return wrapTransient("add label", err)
}

func (c *Client) RemoveLabel(ctx context.Context, key task.Key, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.gh.Issues.RemoveLabelForIssue(ctx, key.Owner, key.Repo, key.Number, name)
	if err != nil {
		if ghErr, ok := err.(*ghapi.ErrorResponse); ok && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			// Already absent — removing a label that isn't present is a no-op,
			// not a failure (labels are the distributed lock; double-release
			// must be idempotent).
			return nil
		}
		return wrapTransient("remove label", err)
	}
	return nil
}

func (c *Client) SetLabels(ctx context.Context, key task.Key, names []string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, _, err := c.gh.Issues.ReplaceLabelsForIssue(ctx, key.Owner, key.Repo, key.Number, names)
	return wrapTransient("set labels", err)
}

func (c *Client) ListBranches(ctx context.Context, repo forge.RepoRef) ([]forge.Branch, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out []forge.Branch
	opts := &ghapi.BranchListOptions{ListOptions: ghapi.ListOptions{PerPage: 100}}
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, repo.Owner, repo.Repo, opts)
		if err != nil {
			return nil, wrapTransient("list branches", err)
		}
		for _, b := range branches {
			out = append(out, forge.Branch{Name: b.GetName(), SHA: b.GetCommit().GetSHA()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) CreateBranch(ctx context.Context, repo forge.RepoRef, name, fromRef string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	base, _, err := c.gh.Git.GetRef(ctx, repo.Owner, repo.Repo, "refs/heads/"+fromRef)
	if err != nil {
		return wrapTransient("resolve base ref", err)
	}
	ref := &ghapi.Reference{
		Ref:    ghapi.Ptr("refs/heads/" + name),
		Object: &ghapi.GitObject{SHA: base.Object.SHA},
	}
	_, _, err = c.gh.Git.CreateRef(ctx, repo.Owner, repo.Repo, ref)
	return wrapTransient("create branch", err)
}

// CreateOrEmptyCommit writes a ".gitkeep"-style marker file, since GitHub's
// API has no native empty-commit endpoint.
func (c *Client) CreateOrEmptyCommit(ctx context.Context, repo forge.RepoRef, branch, message string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	path := fmt.Sprintf(".agent/seed-%d.keep", time.Now().UnixNano())
	opts := &ghapi.RepositoryContentFileOptions{
		Message: &message,
		Content: []byte("seed commit\n"),
		Branch:  &branch,
	}
	_, _, err := c.gh.Repositories.CreateFile(ctx, repo.Owner, repo.Repo, path, opts)
	return wrapTransient("create seed commit", err)
}

func (c *Client) OpenChangeRequest(ctx context.Context, repo forge.RepoRef, head, base, title, body string, draft bool) (forge.ChangeRequestRef, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pr, _, err := c.gh.PullRequests.Create(ctx, repo.Owner, repo.Repo, &ghapi.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
		Draft: &draft,
	})
	if err != nil {
		return forge.ChangeRequestRef{}, wrapTransient("open pull request", err)
	}
	return forge.ChangeRequestRef{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func (c *Client) UpdateChangeRequest(ctx context.Context, key task.Key, body *string, labels []string, assignees []string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if body != nil {
		if _, _, err := c.gh.PullRequests.Edit(ctx, key.Owner, key.Repo, key.Number, &ghapi.PullRequest{Body: body}); err != nil {
			return wrapTransient("update pull request body", err)
		}
	}
	if len(labels) > 0 {
		if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, key.Owner, key.Repo, key.Number, labels); err != nil {
			return wrapTransient("update pull request labels", err)
		}
	}
	if len(assignees) > 0 {
		if _, _, err := c.gh.Issues.AddAssignees(ctx, key.Owner, key.Repo, key.Number, assignees); err != nil {
			return wrapTransient("update pull request assignees", err)
		}
	}
	return nil
}

func (c *Client) DeleteBranch(ctx context.Context, repo forge.RepoRef, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.gh.Git.DeleteRef(ctx, repo.Owner, repo.Repo, "refs/heads/"+name)
	return wrapTransient("delete branch", err)
}

// ResolveUserID is a no-op identity function on GitHub: assignment and
// comment APIs take usernames directly, unlike GitLab.
func (c *Client) ResolveUserID(_ context.Context, username string) (string, error) {
	return username, nil
}
