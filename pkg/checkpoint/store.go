// Package checkpoint persists DialogueState (plus comment-detection state)
// keyed by TaskKey, so a paused or crashed worker can resume a task exactly
// where it left off.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentforge/agentd/pkg/task"
)

// ErrNotFound is returned by Get when no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint: not found")

// State is the full resumable state of an in-flight task: its dialogue
// progress plus the comment-detection manager's own state.
type State struct {
	Dialogue       task.DialogueState `json:"dialogue"`
	CommentDetect  json.RawMessage    `json:"comment_detect,omitempty"`
}

// Store is a Postgres-backed checkpoint table keyed by the task's string
// key representation.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the checkpoint for key.
func (s *Store) Save(ctx context.Context, key task.Key, state State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal state: %w", err)
	}
	keyBody, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal key: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (task_key, task_key_json, state, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (task_key) DO UPDATE SET task_key_json = $2, state = $3, updated_at = now()
	`, key.String(), keyBody, body)
	if err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

// Get fetches the checkpoint for key, or ErrNotFound if none exists.
func (s *Store) Get(ctx context.Context, key task.Key) (State, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE task_key = $1`, key.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("checkpoint: get: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("checkpoint: unmarshal state: %w", err)
	}
	return state, nil
}

// Exists reports whether a checkpoint is present for key, without
// deserializing its body.
func (s *Store) Exists(ctx context.Context, key task.Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM checkpoints WHERE task_key = $1`, key.String()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checkpoint: exists: %w", err)
	}
	return true, nil
}

// StaleKeys returns the keys of every checkpoint whose last update predates
// before, oldest first. Used by the orphan sweep to find tasks whose
// checkpoint has not been updated within the orphan threshold.
func (s *Store) StaleKeys(ctx context.Context, before time.Time) ([]task.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_key_json FROM checkpoints WHERE updated_at < $1 ORDER BY updated_at ASC
	`, before)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: stale keys: %w", err)
	}
	defer rows.Close()

	var keys []task.Key
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("checkpoint: stale keys scan: %w", err)
		}
		var key task.Key
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("checkpoint: stale keys unmarshal: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: stale keys iterate: %w", err)
	}
	return keys, nil
}

// Delete removes the checkpoint for key, if any. Not finding one is not an
// error — deleting a checkpoint on terminal completion is idempotent.
func (s *Store) Delete(ctx context.Context, key task.Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_key = $1`, key.String())
	if err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}
