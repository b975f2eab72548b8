package task

import (
	"context"
	"fmt"
)

// Outcome is the terminal result a worker reports via Finalize.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ForgeClient is the subset of the forge capability set that a Task
// needs to act on itself. It is defined here, rather than imported from
// pkg/forge, so pkg/forge can depend on pkg/task without a cycle; the
// concrete pkg/forge.Client implementations satisfy it structurally.
type ForgeClient interface {
	GetComments(ctx context.Context, key Key) ([]Comment, error)
	Comment(ctx context.Context, key Key, body string) error
	AddLabel(ctx context.Context, key Key, name string) error
	RemoveLabel(ctx context.Context, key Key, name string) error
}

// LabelPolicy names the three labels the state machine cycles through.
type LabelPolicy struct {
	Bot        string
	Processing string
	Done       string
}

// DefaultLabelPolicy mirrors the glossary's defaults.
var DefaultLabelPolicy = LabelPolicy{
	Bot:        "coding agent",
	Processing: "coding agent processing",
	Done:       "done",
}

// Task is the in-memory object materialized by the worker from a Descriptor
// plus a forge re-query. It carries the capability methods the dialogue
// driver, comment-detection subsystem, and converter operate on.
type Task struct {
	Descriptor Descriptor
	Title      string
	Body       string
	Labels     []string
	Author     string
	RawPayload map[string]any

	Resumed    bool
	Checkpoint *DialogueState

	forge  ForgeClient
	labels LabelPolicy
}

// New materializes a Task for a given descriptor and forge-observed fields.
func New(desc Descriptor, forge ForgeClient, title, body, author string, labels []string, raw map[string]any) *Task {
	return &Task{
		Descriptor: desc,
		Title:      title,
		Body:       body,
		Labels:     labels,
		Author:     author,
		RawPayload: raw,
		forge:      forge,
		labels:     DefaultLabelPolicy,
	}
}

// WithLabelPolicy overrides the default bot/processing/done label names.
func (t *Task) WithLabelPolicy(p LabelPolicy) *Task {
	t.labels = p
	return t
}

// Key returns the task's stable identity.
func (t *Task) Key() Key { return t.Descriptor.Key }

// HasLabel reports whether the task's last-observed label set contains name.
func (t *Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// GetComments returns the chronologically ordered comment list.
func (t *Task) GetComments(ctx context.Context) ([]Comment, error) {
	return t.forge.GetComments(ctx, t.Key())
}

// Comment posts a comment on the underlying item.
func (t *Task) Comment(ctx context.Context, body string) error {
	return t.forge.Comment(ctx, t.Key(), body)
}

// AddLabel adds a label to the item.
func (t *Task) AddLabel(ctx context.Context, name string) error {
	return t.forge.AddLabel(ctx, t.Key(), name)
}

// RemoveLabel removes a label from the item.
func (t *Task) RemoveLabel(ctx context.Context, name string) error {
	return t.forge.RemoveLabel(ctx, t.Key(), name)
}

// Prepare applies forge-side labelling to mark the item "processing" — this
// label transition is the distributed lock: a task with the processing
// label is owned by at most one worker.
func (t *Task) Prepare(ctx context.Context) error {
	if err := t.AddLabel(ctx, t.labels.Processing); err != nil {
		return fmt.Errorf("prepare %s: %w", t.Key(), err)
	}
	return nil
}

// Finalize removes the bot/processing labels, adds the done label, and
// posts a terminal comment. It must be called exactly once per worker
// acquisition of a task, via exactly one of OutcomeSuccess/OutcomeFailed.
func (t *Task) Finalize(ctx context.Context, outcome Outcome, message string) error {
	if message != "" {
		if err := t.Comment(ctx, message); err != nil {
			return fmt.Errorf("finalize %s: post comment: %w", t.Key(), err)
		}
	}
	if err := t.RemoveLabel(ctx, t.labels.Bot); err != nil {
		return fmt.Errorf("finalize %s: remove bot label: %w", t.Key(), err)
	}
	if err := t.RemoveLabel(ctx, t.labels.Processing); err != nil {
		return fmt.Errorf("finalize %s: remove processing label: %w", t.Key(), err)
	}
	if err := t.AddLabel(ctx, t.labels.Done); err != nil {
		return fmt.Errorf("finalize %s: add done label: %w", t.Key(), err)
	}
	return nil
}
