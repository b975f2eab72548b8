// Package dialogue implements the bounded LLM dialogue state machine:
// assemble messages, call the LLM, parse a JSON command out of the reply,
// dispatch tool calls or finalize, repeating until the task is done,
// fails, or a pause is requested.
package dialogue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentforge/agentd/pkg/commentdetect"
	"github.com/agentforge/agentd/pkg/llm"
	"github.com/agentforge/agentd/pkg/task"
)

// ToolCaller is the subset of mcptool.Client the driver needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// SuspendChecker is the subset of lifecycle.Signals the driver needs; kept
// as a local interface so this package has no dependency on pkg/lifecycle.
type SuspendChecker interface {
	ShouldSuspend() bool
}

// Outcome is the terminal result of a Run call.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
	OutcomePaused Outcome = "paused"
)

// Result is returned by Run. Message is the final comment to post (Done)
// or the error detail (Failed); it is empty for Paused.
type Result struct {
	Outcome Outcome
	Message string
}

const (
	defaultMaxRetries      = 5
	defaultMaxParseRetries = 5
	defaultMaxTurns        = 50
)

// Options tunes a Driver.
type Options struct {
	Model                   string
	Temperature             float64
	MaxTokens               int
	MaxRetries              int // LLM call attempts per turn on transport error; 0 = defaultMaxRetries
	MaxParseRetries         int // consecutive unparseable replies tolerated before failing; 0 = defaultMaxParseRetries
	MaxTurns                int // global per-task turn cap; 0 = defaultMaxTurns
	SystemPrompt            string
	FirstUserPromptTemplate string // fmt-style template; %s placeholders filled via task fields
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.MaxParseRetries <= 0 {
		o.MaxParseRetries = defaultMaxParseRetries
	}
	if o.MaxTurns <= 0 {
		o.MaxTurns = defaultMaxTurns
	}
	return o
}

// Driver runs the dialogue state machine for one task.
type Driver struct {
	llm   llm.Client
	tools ToolCaller
	opts  Options
}

func New(llmClient llm.Client, tools ToolCaller, opts Options) *Driver {
	return &Driver{llm: llmClient, tools: tools, opts: opts.withDefaults()}
}

// commandEnvelope is the JSON shape an LLM reply's first parseable object
// is interpreted as.
type commandEnvelope struct {
	Done    bool `json:"done"`
	Command *struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	} `json:"command"`
}

// OnTurn is invoked after state is updated at the end of each turn, before
// the next iteration begins (and is not called again after the final
// terminal turn, since the caller handles persistence for Done/Failed/Paused
// itself). Callers use it to checkpoint progress at turn boundaries, so a
// crash mid-dialogue loses at most one turn rather than the whole run.
type OnTurn func(ctx context.Context, state *task.DialogueState) error

// Run drives turns until a terminal outcome. state is mutated in place as
// turns progress. onTurn, if non-nil, is called after every non-terminal turn so the
// caller can checkpoint; it may be nil for callers that don't need
// mid-run persistence (e.g. tests).
func (d *Driver) Run(ctx context.Context, t *task.Task, state *task.DialogueState, detector *commentdetect.Manager, suspend SuspendChecker, onTurn OnTurn) (Result, error) {
	if state.TurnIndex == 0 && len(state.History) == 0 {
		state.History = append(state.History, task.TurnRecord{
			Role:    string(llm.RoleUser),
			Content: d.firstUserPrompt(t),
		})
		if detector != nil {
			_ = detector.Initialize(ctx)
		}
	}

	parseFailures := 0
	for state.TurnIndex < d.opts.MaxTurns {
		if suspend != nil && suspend.ShouldSuspend() {
			return Result{Outcome: OutcomePaused}, nil
		}

		if detector != nil {
			if fresh := detector.CheckForNewComments(ctx); len(fresh) > 0 {
				state.History = append(state.History, task.TurnRecord{
					Role:    string(llm.RoleUser),
					Content: commentdetect.Format(fresh),
				})
			}
		}

		reply, usage, err := d.callWithRetry(ctx, state.History)
		if err != nil {
			msg := fmt.Sprintf("dialogue: LLM call failed after %d attempts: %v", d.opts.MaxRetries, err)
			_ = t.Comment(ctx, msg)
			return Result{Outcome: OutcomeFailed, Message: msg}, nil
		}
		state.TotalTokens += usage.TotalTokens

		obj, ok := extractFirstJSONObject(reply.Content)
		if !ok {
			parseFailures++
			if parseFailures > d.opts.MaxParseRetries {
				msg := fmt.Sprintf("dialogue: no parseable command after %d unparseable replies", d.opts.MaxParseRetries)
				_ = t.Comment(ctx, msg)
				return Result{Outcome: OutcomeFailed, Message: msg}, nil
			}
			state.History = append(state.History, task.TurnRecord{Role: string(llm.RoleAssistant), Content: reply.Content})
			if err := t.Comment(ctx, reply.Content); err != nil {
				return Result{}, fmt.Errorf("dialogue: post raw reply comment: %w", err)
			}
			state.TurnIndex++
			if onTurn != nil {
				if err := onTurn(ctx, state); err != nil {
					return Result{}, fmt.Errorf("dialogue: checkpoint turn: %w", err)
				}
			}
			continue
		}
		parseFailures = 0

		env, envErr := decodeEnvelope(obj)
		state.History = append(state.History, task.TurnRecord{Role: string(llm.RoleAssistant), Content: reply.Content})
		state.TurnIndex++

		if envErr != nil {
			// Parsed as JSON but not our envelope shape — treat as a plain
			// conversational turn, same as the "anything else" branch.
			if err := t.Comment(ctx, reply.Content); err != nil {
				return Result{}, fmt.Errorf("dialogue: post conversational comment: %w", err)
			}
			if onTurn != nil {
				if err := onTurn(ctx, state); err != nil {
					return Result{}, fmt.Errorf("dialogue: checkpoint turn: %w", err)
				}
			}
			continue
		}

		switch {
		case env.Done:
			if err := t.Comment(ctx, reply.Content); err != nil {
				return Result{}, fmt.Errorf("dialogue: post final comment: %w", err)
			}
			return Result{Outcome: OutcomeDone, Message: reply.Content}, nil

		case env.Command != nil:
			// A tool error is surfaced to the dialogue as the stringified
			// result itself (invokeTool folds it in); the LLM is expected
			// to recover on the next turn rather than aborting the run.
			result, _ := d.invokeTool(ctx, t, *env.Command)
			state.ToolCallCount++
			state.PreviousOutput = result
			state.History = append(state.History, task.TurnRecord{
				Role:    string(llm.RoleUser),
				Content: "[tool result]:\n" + result,
			})

		default:
			if err := t.Comment(ctx, reply.Content); err != nil {
				return Result{}, fmt.Errorf("dialogue: post conversational comment: %w", err)
			}
		}

		if onTurn != nil {
			if err := onTurn(ctx, state); err != nil {
				return Result{}, fmt.Errorf("dialogue: checkpoint turn: %w", err)
			}
		}
	}

	msg := fmt.Sprintf("dialogue: exceeded maximum turn count (%d) without completion", d.opts.MaxTurns)
	_ = t.Comment(ctx, msg)
	return Result{Outcome: OutcomeFailed, Message: msg}, nil
}

func (d *Driver) invokeTool(ctx context.Context, t *task.Task, cmd struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}) (string, error) {
	args := cmd.Args
	if args == nil {
		args = map[string]any{}
	}
	injectRepoIdentity(args, t.Key())

	result, err := d.tools.CallTool(ctx, cmd.Tool, args)
	if err != nil {
		return fmt.Sprintf("tool error: %v", err), err
	}
	return result, nil
}

// injectRepoIdentity auto-injects owner/repo (GitHub) or project_id
// (GitLab) into tool args so the LLM never has to name them explicitly.
func injectRepoIdentity(args map[string]any, key task.Key) {
	switch key.Source {
	case task.SourceGitHub:
		args["owner"] = key.Owner
		args["repo"] = key.Repo
	case task.SourceGitLab:
		args["project_id"] = key.ProjectID
	}
}

func (d *Driver) callWithRetry(ctx context.Context, history []task.TurnRecord) (llm.Reply, llm.TokenUsage, error) {
	messages := d.assembleMessages(history)

	var lastErr error
	for attempt := 0; attempt < d.opts.MaxRetries; attempt++ {
		reply, usage, err := d.llm.Complete(ctx, messages, llm.Options{
			Model:       d.opts.Model,
			Temperature: d.opts.Temperature,
			MaxTokens:   d.opts.MaxTokens,
		})
		if err == nil {
			return reply, usage, nil
		}
		lastErr = err
	}
	return llm.Reply{}, llm.TokenUsage{}, lastErr
}

func (d *Driver) assembleMessages(history []task.TurnRecord) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	if d.opts.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: d.opts.SystemPrompt})
	}
	for _, h := range history {
		messages = append(messages, llm.Message{Role: llm.Role(h.Role), Content: h.Content})
	}
	return messages
}

func (d *Driver) firstUserPrompt(t *task.Task) string {
	tmpl := d.opts.FirstUserPromptTemplate
	if tmpl == "" {
		tmpl = "Title: %s\n\n%s"
	}
	return fmt.Sprintf(tmpl, t.Title, t.Body)
}

func decodeEnvelope(obj map[string]any) (commandEnvelope, error) {
	body, err := json.Marshal(obj)
	if err != nil {
		return commandEnvelope{}, err
	}
	var env commandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return commandEnvelope{}, err
	}
	if !env.Done && env.Command == nil {
		return commandEnvelope{}, fmt.Errorf("dialogue: object is not a recognized command envelope")
	}
	return env, nil
}

// extractFirstJSONObject scans s for the first balanced {...} span (honoring
// string literals and escapes) that parses as a JSON object, trying each
// candidate start position in order until one succeeds.
func extractFirstJSONObject(s string) (map[string]any, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		end := matchingBrace(s, i)
		if end == -1 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(s[i:end+1]), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

func matchingBrace(s string, start int) int {
	depth := 0
	inStr := false
	esc := false
	for j := start; j < len(s); j++ {
		c := s[j]
		if esc {
			esc = false
			continue
		}
		if inStr {
			switch c {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}
