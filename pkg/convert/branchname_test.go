package convert

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentforge/agentd/pkg/llm"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Complete(context.Context, []llm.Message, llm.Options) (llm.Reply, llm.TokenUsage, error) {
	if s.err != nil {
		return llm.Reply{}, llm.TokenUsage{}, s.err
	}
	return llm.Reply{Content: s.reply}, llm.TokenUsage{}, nil
}

func TestBranchNameGenerator_ValidNameFromLLMIsKept(t *testing.T) {
	g := NewBranchNameGenerator(&stubLLM{reply: `{"branch_name": "feature/codingagent-9-add-thing"}`}, "codingagent")
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, nil)
	assert.Equal(t, "feature/codingagent-9-add-thing", name)
}

func TestBranchNameGenerator_MissingPrefixGetsTaskPrefix(t *testing.T) {
	g := NewBranchNameGenerator(&stubLLM{reply: `{"branch_name": "codingagent-9-add-thing"}`}, "codingagent")
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, nil)
	assert.True(t, strings.HasPrefix(name, "task/"))
}

func TestBranchNameGenerator_MissingBotNameAndNumberGetsInjected(t *testing.T) {
	g := NewBranchNameGenerator(&stubLLM{reply: `{"branch_name": "feature/add-thing"}`}, "codingagent")
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, nil)
	assert.Contains(t, name, "codingagent-9")
}

func TestBranchNameGenerator_BareReservedNameGetsPrefixedAndTagged(t *testing.T) {
	// "main" has no recognized prefix and doesn't embed the bot name, so it
	// picks up a task/ prefix and a bot-name/issue-number injection before
	// the reserved-word check ever inspects the final path segment — same
	// ordering as the original, where the reserved check mainly guards
	// against a name that is ALREADY prefixed and tagged but still reduces
	// to an exact reserved word.
	g := NewBranchNameGenerator(&stubLLM{reply: `{"branch_name": "main"}`}, "codingagent")
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, nil)
	assert.Equal(t, "task/codingagent-9-main", name)
}

func TestBranchNameGenerator_CollisionGetsSuffixed(t *testing.T) {
	g := NewBranchNameGenerator(&stubLLM{reply: `{"branch_name": "feature/codingagent-9-thing"}`}, "codingagent")
	existing := []string{"feature/codingagent-9-thing"}
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, existing)
	assert.Equal(t, "feature/codingagent-9-thing-2", name)
}

func TestBranchNameGenerator_TooLongIsTruncated(t *testing.T) {
	long := `{"branch_name": "feature/codingagent-9-` + strings.Repeat("x", 80) + `"}`
	g := NewBranchNameGenerator(&stubLLM{reply: long}, "codingagent")
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, nil)
	assert.LessOrEqual(t, len(name), maxBranchNameLength)
}

func TestBranchNameGenerator_LLMErrorUsesFallback(t *testing.T) {
	g := NewBranchNameGenerator(&stubLLM{err: context.DeadlineExceeded}, "codingagent")
	name := g.Generate(context.Background(), IssueInfo{Number: 9}, nil)
	assert.Equal(t, "task/codingagent-9-auto-generated", name)
}

func TestFormatChangeRequestBody_ExcludesBotComments(t *testing.T) {
	body := FormatChangeRequestBody(IssueInfo{Number: 1, Author: "alice", Body: "please fix"},
		nil, []string{"codingagent"})
	assert.Contains(t, body, "📋")
	assert.Contains(t, body, "🤖")
	assert.Contains(t, body, "No comments")
}
