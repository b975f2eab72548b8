package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentforge/agentd/pkg/checkpoint"
	"github.com/agentforge/agentd/pkg/commentdetect"
	"github.com/agentforge/agentd/pkg/dialogue"
	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
)

// pausedPollInterval is how often a paused worker rechecks for resume,
// rather than blocking indefinitely on a queue Get that only unblocks on
// shutdown, not pause.
const pausedPollInterval = 2 * time.Second

type worker struct {
	id         string
	pool       *Pool
	lastTaskAt time.Time
}

func (w *worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for {
		if w.pool.signals.Stopped() {
			return
		}
		if w.pool.signals.Paused() {
			select {
			case <-time.After(pausedPollInterval):
			case <-w.pool.signals.StopCh():
			}
			continue
		}

		if err := w.pollAndProcess(ctx); err != nil {
			if errors.Is(err, taskqueue.ErrEmpty) {
				continue
			}
			log.Error("task processing failed", "error", err)
		}

		if w.pool.heartbeat != nil {
			if err := w.pool.heartbeat.Touch(); err != nil {
				log.Warn("heartbeat touch failed", "error", err)
			}
		}
	}
}

// pollAndProcess claims exactly one task descriptor and drives it to
// completion or to a checkpointed pause.
func (w *worker) pollAndProcess(ctx context.Context) error {
	desc, err := w.pool.queue.Get(ctx, w.pool.signals.StopCh())
	if err != nil {
		return err
	}

	w.rateLimit()
	w.lastTaskAt = time.Now()

	fc, ok := w.pool.forges[desc.Key.Source]
	if !ok {
		return fmt.Errorf("worker: no forge client configured for source %q", desc.Key.Source)
	}

	title, body, author, labels, raw, err := fc.GetItem(ctx, desc.Key)
	if err != nil {
		return fmt.Errorf("worker: re-query item %s: %w", desc.Key, err)
	}

	t := task.New(desc, fc, title, body, author, labels, raw).WithLabelPolicy(w.pool.opts.LabelPolicy)

	if !t.HasLabel(w.pool.opts.LabelPolicy.Bot) {
		slog.Info("bot label no longer present at claim time, dropping", "task_key", desc.Key.String())
		return nil
	}

	existed, err := w.pool.checkpoints.Exists(ctx, desc.Key)
	if err != nil {
		return fmt.Errorf("worker: checkpoint lookup: %w", err)
	}
	t.Resumed = existed

	// Prepare (add the processing label) unconditionally, resumed or not:
	// AddLabel is additive/idempotent at the forge layer, and a resumed
	// task whose processing label was somehow cleared (e.g. a manual
	// relabel) must still re-acquire the lock before continuing.
	if err := t.Prepare(ctx); err != nil {
		return fmt.Errorf("worker: prepare: %w", err)
	}

	if t.Key().IsChangeRequest() || !w.pool.opts.ConvertIssues {
		return w.runDialogue(ctx, t)
	}
	return w.runConversion(ctx, t)
}

// rateLimit enforces the configured minimum gap between tasks a single
// worker starts, independent of how many are queued.
func (w *worker) rateLimit() {
	if w.pool.opts.MinInterval <= 0 || w.lastTaskAt.IsZero() {
		return
	}
	if wait := w.pool.opts.MinInterval - time.Since(w.lastTaskAt); wait > 0 {
		select {
		case <-time.After(wait):
		case <-w.pool.signals.StopCh():
		}
	}
}

// runConversion drives the issue→change-request converter. A
// successful conversion has already posted its own notification comment
// and performed its own label handoff internally; only a failure needs the
// worker's generic Finalize path.
func (w *worker) runConversion(ctx context.Context, t *task.Task) error {
	if w.pool.converter == nil {
		return fmt.Errorf("worker: conversion enabled but no converter configured for %s", t.Key())
	}
	result := w.pool.converter.Convert(ctx, t)
	if result.Success {
		return nil
	}
	msg := fmt.Sprintf("Automatic conversion to a change request failed: %s", result.Error)
	if err := t.Finalize(ctx, task.OutcomeFailed, msg); err != nil {
		return fmt.Errorf("worker: finalize failed conversion: %w", err)
	}
	return nil
}

// runDialogue drives the bounded LLM dialogue to a terminal outcome,
// resuming from a saved checkpoint when one exists and persisting progress
// at every turn boundary so a crash loses at most one turn.
func (w *worker) runDialogue(ctx context.Context, t *task.Task) error {
	state := &task.DialogueState{}
	var commentState []byte
	if t.Resumed {
		cp, err := w.pool.checkpoints.Get(ctx, t.Key())
		if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("worker: load checkpoint: %w", err)
		}
		if err == nil {
			d := cp.Dialogue
			state = &d
			commentState = cp.CommentDetect
		}
	}

	tools, err := w.pool.tools(ctx)
	if err != nil {
		return fmt.Errorf("worker: open tool session: %w", err)
	}
	defer func() {
		if cerr := tools.Close(); cerr != nil {
			slog.Warn("tool session close failed", "worker_id", w.id, "error", cerr)
		}
	}()

	detector := commentdetect.New(t, w.pool.opts.BotUsername)
	if len(commentState) > 0 {
		if err := detector.RestoreState(ctx, commentState); err != nil {
			slog.Warn("comment-detection state restore failed, starting fresh", "error", err)
		}
	}

	usageBaseline := usageSnapshot{turns: int64(state.TurnIndex), toolCalls: state.ToolCallCount, tokens: state.TotalTokens}

	driver := dialogue.New(w.pool.llmClient, tools, w.pool.opts.Dialogue)
	onTurn := func(ctx context.Context, s *task.DialogueState) error {
		w.recordUsage(ctx, t, s, &usageBaseline)
		return w.checkpointProgress(ctx, t, s, detector)
	}

	result, err := driver.Run(ctx, t, state, detector, w.pool.signals, onTurn)
	if err != nil {
		return fmt.Errorf("worker: dialogue run: %w", err)
	}
	// onTurn is not invoked again for the terminal turn itself, so the run's
	// last turn is still unrecorded at this point.
	w.recordUsage(ctx, t, state, &usageBaseline)

	switch result.Outcome {
	case dialogue.OutcomePaused:
		return w.checkpointProgress(ctx, t, state, detector)

	case dialogue.OutcomeDone:
		if err := t.Finalize(ctx, task.OutcomeSuccess, ""); err != nil {
			return fmt.Errorf("worker: finalize success: %w", err)
		}
		return w.pool.checkpoints.Delete(ctx, t.Key())

	case dialogue.OutcomeFailed:
		if err := t.Finalize(ctx, task.OutcomeFailed, ""); err != nil {
			return fmt.Errorf("worker: finalize failure: %w", err)
		}
		return w.pool.checkpoints.Delete(ctx, t.Key())
	}
	return nil
}

// usageSnapshot is the last-recorded point in a DialogueState's cumulative
// counters, so recordUsage can report only what changed since then.
type usageSnapshot struct {
	turns     int64
	toolCalls int64
	tokens    int64
}

// recordUsage reports the token/call delta since the last snapshot to the
// token-usage store, attributed to the task's triggering user. A nil
// recorder (telemetry disabled) or a zero delta is a no-op.
func (w *worker) recordUsage(ctx context.Context, t *task.Task, s *task.DialogueState, baseline *usageSnapshot) {
	if w.pool.usage == nil {
		return
	}
	deltaTurns := int64(s.TurnIndex) - baseline.turns
	deltaToolCalls := s.ToolCallCount - baseline.toolCalls
	deltaTokens := s.TotalTokens - baseline.tokens
	baseline.turns, baseline.toolCalls, baseline.tokens = int64(s.TurnIndex), s.ToolCallCount, s.TotalTokens
	if deltaTurns == 0 && deltaToolCalls == 0 && deltaTokens == 0 {
		return
	}
	username := t.Descriptor.User
	if username == "" {
		return
	}
	if err := w.pool.usage.Record(ctx, username, time.Now(), deltaTurns, deltaToolCalls, deltaTokens); err != nil {
		slog.Warn("token-usage record failed", "worker_id", w.id, "task_key", t.Key().String(), "error", err)
	}
}

func (w *worker) checkpointProgress(ctx context.Context, t *task.Task, state *task.DialogueState, detector *commentdetect.Manager) error {
	raw, err := detector.GetState()
	if err != nil {
		return fmt.Errorf("worker: serialize comment-detection state: %w", err)
	}
	if err := w.pool.checkpoints.Save(ctx, t.Key(), checkpoint.State{Dialogue: *state, CommentDetect: raw}); err != nil {
		return fmt.Errorf("worker: save checkpoint: %w", err)
	}
	return nil
}
