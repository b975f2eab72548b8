package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentforge/agentd/pkg/llm"
)

const (
	maxBranchNameLength  = 50
	maxBranchNameRetries = 5
)

var (
	reservedBranchNames = map[string]bool{
		"main": true, "master": true, "develop": true, "release": true, "hotfix": true,
	}
	validBranchPrefixes = []string{"feature/", "fix/", "docs/", "refactor/", "test/", "task/"}

	disallowedBranchChars = regexp.MustCompile(`[^a-z0-9/-]`)
	repeatedHyphens       = regexp.MustCompile(`-+`)
	repeatedSlashes       = regexp.MustCompile(`/+`)
)

const branchNameSystemPrompt = `You are a branch name generator for Git repositories.
Your task is to analyze an issue's content and generate an appropriate branch name.

Branch naming rules:
1. Use one of these prefixes based on issue type:
   - feature/ : for new features
   - fix/ : for bug fixes
   - docs/ : for documentation
   - refactor/ : for refactoring
   - test/ : for tests
   - task/ : for other tasks
2. MUST include the bot name and issue number in the format: {prefix}{bot_name}-{issue_number}-{description}
3. Use only lowercase letters, numbers, and hyphens
4. Maximum length is 50 characters
5. Do not use spaces or special characters

Respond with a JSON object with a single "branch_name" field.`

// IssueInfo is the subset of a task the branch-name generator and body
// formatter need, collected once per conversion (step 1).
type IssueInfo struct {
	Number     int
	Title      string
	Body       string
	Author     string
	Labels     []string
	Repository string
	CreatedAt  string
}

// BranchNameGenerator produces a validated branch name for an issue via a
// short LLM call, falling back to a deterministic name on any LLM failure.
type BranchNameGenerator struct {
	llm     llm.Client
	botName string
}

func NewBranchNameGenerator(llmClient llm.Client, botName string) *BranchNameGenerator {
	if botName == "" {
		botName = "codingagent"
	}
	return &BranchNameGenerator{llm: llmClient, botName: sanitizeForBranch(botName)}
}

// Generate returns a branch name that passes validateAndFix, never colliding with
// existing (up to maxBranchNameRetries numbered suffixes before giving up
// and returning the last attempted name regardless).
func (g *BranchNameGenerator) Generate(ctx context.Context, info IssueInfo, existing []string) string {
	name, err := g.requestName(ctx, info, existing)
	if err != nil {
		name = fallbackBranchName(g.botName, info.Number)
	}
	return g.validateAndFix(name, info, existing)
}

func (g *BranchNameGenerator) requestName(ctx context.Context, info IssueInfo, existing []string) (string, error) {
	reply, _, err := g.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: branchNameSystemPrompt},
		{Role: llm.RoleUser, Content: g.buildMessage(info, existing)},
	}, llm.Options{Temperature: 0.2})
	if err != nil {
		return "", fmt.Errorf("convert: branch name LLM call: %w", err)
	}

	obj, ok := extractJSONObject(reply.Content)
	if ok {
		if name, _ := obj["branch_name"].(string); name != "" {
			return name, nil
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(reply.Content), "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "/") && !strings.HasPrefix(line, "#") {
			return line, nil
		}
	}
	return "", fmt.Errorf("convert: no usable branch name in LLM reply")
}

func (g *BranchNameGenerator) buildMessage(info IssueInfo, existing []string) string {
	labels := "None"
	if len(info.Labels) > 0 {
		labels = strings.Join(info.Labels, ", ")
	}
	existingStr := "None"
	if len(existing) > 0 {
		capped := existing
		if len(capped) > 20 {
			capped = capped[:20]
		}
		existingStr = strings.Join(capped, ", ")
	}
	body := info.Body
	if len(body) > 500 {
		body = body[:500]
	}
	return fmt.Sprintf(
		"Generate a branch name for the following issue:\n\nBot Name: %s\nIssue Number: %d\nIssue Title: %s\nIssue Body: %s\nLabels: %s\nRepository: %s\nExisting Branches: %s\n\nPlease generate an appropriate branch name following the naming rules.",
		g.botName, info.Number, info.Title, body, labels, info.Repository, existingStr,
	)
}

func (g *BranchNameGenerator) validateAndFix(name string, info IssueInfo, existing []string) string {
	name = sanitizeForBranch(name)

	hasPrefix := false
	for _, p := range validBranchPrefixes {
		if strings.HasPrefix(name, p) {
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		name = "task/" + name
	}

	if !strings.Contains(strings.ToLower(name), g.botName) || !strings.Contains(name, strconv.Itoa(info.Number)) {
		prefix, rest, _ := strings.Cut(name, "/")
		name = fmt.Sprintf("%s/%s-%d-%s", prefix, g.botName, info.Number, rest)
	}

	if len(name) > maxBranchNameLength {
		name = strings.TrimRight(name[:maxBranchNameLength], "-")
	}

	base := name
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		base = name[idx+1:]
	}
	if reservedBranchNames[strings.ToLower(base)] {
		name = fallbackBranchName(g.botName, info.Number)
	}

	existingSet := make(map[string]bool, len(existing))
	for _, e := range existing {
		existingSet[e] = true
	}
	original := name
	for suffix := 2; existingSet[name] && suffix <= maxBranchNameRetries; suffix++ {
		truncated := original
		if len(truncated) > maxBranchNameLength-3 {
			truncated = truncated[:maxBranchNameLength-3]
		}
		name = fmt.Sprintf("%s-%d", truncated, suffix)
	}

	return name
}

func fallbackBranchName(botName string, issueNumber int) string {
	return fmt.Sprintf("task/%s-%d-auto-generated", botName, issueNumber)
}

func sanitizeForBranch(text string) string {
	text = strings.ToLower(text)
	text = disallowedBranchChars.ReplaceAllString(text, "-")
	text = repeatedHyphens.ReplaceAllString(text, "-")
	text = strings.Trim(text, "-")
	text = repeatedSlashes.ReplaceAllString(text, "/")
	text = strings.TrimRight(text, "/")
	return text
}

// extractJSONObject pulls the first balanced {...} object out of s, tolerant
// of surrounding prose — the same brace-matching approach pkg/dialogue uses
// for LLM replies, since a branch-name reply is free-form text by the same
// model that can't be trusted to emit JSON alone.
func extractJSONObject(s string) (map[string]any, bool) {
	depth := 0
	start := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					var obj map[string]any
					if err := json.Unmarshal([]byte(s[start:i+1]), &obj); err == nil {
						return obj, true
					}
					start = -1
				}
			}
		}
	}
	return nil, false
}
