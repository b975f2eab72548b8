// Package convert implements the issue→change-request conversion workflow
// a nine-step transaction (collect → generate branch name → create
// branch → seed commit → open change request → transfer content → configure
// auto-pickup → notify source issue → hand off labels) with compensation on
// early-step failure.
package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/llm"
	"github.com/agentforge/agentd/pkg/task"
)

// Options configures label names and draft behavior; defaults mirror
// task.DefaultLabelPolicy.
type Options struct {
	Enabled         bool
	BotName         string
	BotLabel        string
	ProcessingLabel string
	DoneLabel       string
	AutoDraft       bool
}

func (o Options) withDefaults() Options {
	if o.BotLabel == "" {
		o.BotLabel = task.DefaultLabelPolicy.Bot
	}
	if o.ProcessingLabel == "" {
		o.ProcessingLabel = task.DefaultLabelPolicy.Processing
	}
	if o.DoneLabel == "" {
		o.DoneLabel = task.DefaultLabelPolicy.Done
	}
	if o.BotName == "" {
		o.BotName = "codingagent"
	}
	return o
}

// Converter drives the conversion workflow for one issue task.
type Converter struct {
	forge     forge.Client
	branchGen *BranchNameGenerator
	opts      Options
}

func New(forgeClient forge.Client, llmClient llm.Client, opts Options) *Converter {
	opts = opts.withDefaults()
	return &Converter{
		forge:     forgeClient,
		branchGen: NewBranchNameGenerator(llmClient, opts.BotName),
		opts:      opts,
	}
}

// Convert runs the nine-step workflow for t, an issue-kind task. It never
// returns an error — every outcome, including failure, is reported via the
// returned task.ConversionResult so the worker pool can finalize the source
// issue exactly once either way.
func (c *Converter) Convert(ctx context.Context, t *task.Task) task.ConversionResult {
	if !c.opts.Enabled {
		return task.ConversionResult{Success: false, Error: "issue-to-change-request conversion is disabled"}
	}

	key := t.Key()
	info := c.collectIssueInfo(t)
	repo := c.forge.RepoOf(key)

	existingBranches, err := c.listBranchNames(ctx, repo)
	if err != nil {
		slog.Warn("convert: failed to list existing branches, proceeding without collision check", "error", err)
	}
	branchName := c.branchGen.Generate(ctx, info, existingBranches)

	base, err := c.forge.DefaultBranch(ctx, repo)
	if err != nil {
		slog.Warn("convert: failed to resolve default branch, assuming main", "error", err)
		base = "main"
	}

	if err := c.forge.CreateBranch(ctx, repo, branchName, base); err != nil {
		return task.ConversionResult{Success: false, Error: fmt.Sprintf("create branch %s: %v", branchName, err)}
	}

	commitMessage := fmt.Sprintf("chore: initialize branch for issue #%d", info.Number)
	if err := c.forge.CreateOrEmptyCommit(ctx, repo, branchName, commitMessage); err != nil {
		c.cleanupBranch(ctx, repo, branchName)
		return task.ConversionResult{Success: false, Error: fmt.Sprintf("create seed commit: %v", err)}
	}

	crBody := fmt.Sprintf("This change request was automatically generated from issue #%d.", info.Number)
	crRef, err := c.forge.OpenChangeRequest(ctx, repo, branchName, base, info.Title, crBody, c.opts.AutoDraft)
	if err != nil {
		c.cleanupBranch(ctx, repo, branchName)
		return task.ConversionResult{Success: false, Error: fmt.Sprintf("open change request: %v", err)}
	}
	crKey := changeRequestKey(key, crRef.Number)

	comments, err := t.GetComments(ctx)
	if err != nil {
		slog.Warn("convert: failed to fetch issue comments, transferring with none", "error", err)
	}
	transferredBody := FormatChangeRequestBody(info, comments, []string{c.opts.BotName})
	if err := c.forge.UpdateChangeRequest(ctx, crKey, &transferredBody, nil, nil); err != nil {
		c.cleanupBranch(ctx, repo, branchName)
		return task.ConversionResult{Success: false, Error: fmt.Sprintf("update change request body: %v", err)}
	}

	// Steps 7-9: the change request is now a durable, user-visible artifact —
	// failures here are logged, not compensated (SPEC_FULL §4.8).
	c.configureAutoPickup(ctx, crKey)
	c.notifySourceIssue(ctx, t, crRef, branchName)
	c.handOffLabels(ctx, t)

	return task.ConversionResult{
		Success:    true,
		CRNumber:   crRef.Number,
		CRURL:      crRef.URL,
		BranchName: branchName,
	}
}

func (c *Converter) collectIssueInfo(t *task.Task) IssueInfo {
	key := t.Key()
	createdAt, _ := t.RawPayload["created_at"].(string)
	return IssueInfo{
		Number:     issueNumber(key),
		Title:      t.Title,
		Body:       t.Body,
		Author:     t.Author,
		Labels:     t.Labels,
		Repository: repositoryString(key),
		CreatedAt:  createdAt,
	}
}

func (c *Converter) listBranchNames(ctx context.Context, repo forge.RepoRef) ([]string, error) {
	branches, err := c.forge.ListBranches(ctx, repo)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names, nil
}

func (c *Converter) cleanupBranch(ctx context.Context, repo forge.RepoRef, name string) {
	if err := c.forge.DeleteBranch(ctx, repo, name); err != nil {
		slog.Warn("convert: failed to clean up branch after conversion failure", "branch", name, "error", err)
	}
}

// configureAutoPickup adds the bot label and assigns the bot user so the
// new change request is picked up by the same polling/webhook path as a
// hand-authored one. GitLab's UpdateChangeRequest resolves the username to
// a numeric id internally via ResolveUserID; GitHub accepts the username
// directly — callers here never need to branch on platform.
func (c *Converter) configureAutoPickup(ctx context.Context, crKey task.Key) {
	if err := c.forge.UpdateChangeRequest(ctx, crKey, nil, []string{c.opts.BotLabel}, nil); err != nil {
		slog.Warn("convert: failed to add bot label to change request", "error", err)
	}
	if err := c.forge.UpdateChangeRequest(ctx, crKey, nil, nil, []string{c.opts.BotName}); err != nil {
		slog.Warn("convert: failed to assign change request to bot", "bot_name", c.opts.BotName, "error", err)
	}
}

func (c *Converter) notifySourceIssue(ctx context.Context, t *task.Task, crRef forge.ChangeRequestRef, branchName string) {
	url := crRef.URL
	if url == "" {
		url = "N/A"
	}
	comment := fmt.Sprintf(
		"## 🚀 Change request opened\n\nA change request has been created from this issue:\n\n- **Change request**: #%d\n- **Branch**: `%s`\n- **Link**: %s\n\nFurther progress will continue on the change request.",
		crRef.Number, branchName, url,
	)
	if err := t.Comment(ctx, comment); err != nil {
		slog.Warn("convert: failed to post conversion notice on source issue", "error", err)
	}
}

func (c *Converter) handOffLabels(ctx context.Context, t *task.Task) {
	if err := t.RemoveLabel(ctx, c.opts.BotLabel); err != nil {
		slog.Warn("convert: failed to remove bot label from source issue", "error", err)
	}
	if err := t.RemoveLabel(ctx, c.opts.ProcessingLabel); err != nil {
		slog.Warn("convert: failed to remove processing label from source issue", "error", err)
	}
	if err := t.AddLabel(ctx, c.opts.DoneLabel); err != nil {
		slog.Warn("convert: failed to add done label to source issue", "error", err)
	}
}

func issueNumber(key task.Key) int {
	if key.Source == task.SourceGitLab {
		return key.IID
	}
	return key.Number
}

func repositoryString(key task.Key) string {
	if key.Source == task.SourceGitLab {
		return fmt.Sprintf("%d", key.ProjectID)
	}
	return fmt.Sprintf("%s/%s", key.Owner, key.Repo)
}

func changeRequestKey(issueKey task.Key, number int) task.Key {
	if issueKey.Source == task.SourceGitLab {
		return task.GitLabChangeRequest(issueKey.ProjectID, number)
	}
	return task.GitHubPullRequest(issueKey.Owner, issueKey.Repo, number)
}
