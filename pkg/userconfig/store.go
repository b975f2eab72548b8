// Package userconfig implements the per-user LLM configuration resolver
// and its backing REST surface: an authenticated lookup that
// merges ambient defaults with an optional per-user override (model name,
// an AES-256-GCM-encrypted API key, and an additional system prompt),
// keyed by (platform, username).
package userconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Store.Get when no row exists for the key.
var ErrNotFound = errors.New("userconfig: not found")

// Record is one user's override row in user_configs.
type Record struct {
	Username          string
	Platform          string
	Model             string
	EncryptedAPIKey   string // base64(nonce||tag||ciphertext), empty if unset
	SystemPrompt      string
	MaxLLMProcessNum  *int
	UpdatedAt         time.Time
}

// Store is a Postgres-backed table of per-user LLM overrides.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get fetches the override row for (platform, username), or ErrNotFound.
func (s *Store) Get(ctx context.Context, platform, username string) (Record, error) {
	var r Record
	var model, apiKey, prompt sql.NullString
	var maxProc sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT username, platform, model, encrypted_api_key, system_prompt, max_llm_process_num, updated_at
		FROM user_configs
		WHERE platform = $1 AND username = $2
	`, platform, username).Scan(&r.Username, &r.Platform, &model, &apiKey, &prompt, &maxProc, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("userconfig: get: %w", err)
	}

	r.Model = model.String
	r.EncryptedAPIKey = apiKey.String
	r.SystemPrompt = prompt.String
	if maxProc.Valid {
		v := int(maxProc.Int64)
		r.MaxLLMProcessNum = &v
	}
	return r, nil
}

// Upsert writes rec, setting updated_at to now. Passing an empty
// EncryptedAPIKey clears any previously stored key.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	var maxProc sql.NullInt64
	if rec.MaxLLMProcessNum != nil {
		maxProc = sql.NullInt64{Int64: int64(*rec.MaxLLMProcessNum), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_configs (username, platform, model, encrypted_api_key, system_prompt, max_llm_process_num, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (username, platform) DO UPDATE SET
			model = $3, encrypted_api_key = $4, system_prompt = $5, max_llm_process_num = $6, updated_at = now()
	`, rec.Username, rec.Platform, nullIfEmpty(rec.Model), nullIfEmpty(rec.EncryptedAPIKey), nullIfEmpty(rec.SystemPrompt), maxProc)
	if err != nil {
		return fmt.Errorf("userconfig: upsert: %w", err)
	}
	return nil
}

// Delete removes the override row for (platform, username), if any.
func (s *Store) Delete(ctx context.Context, platform, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_configs WHERE platform = $1 AND username = $2`, platform, username)
	if err != nil {
		return fmt.Errorf("userconfig: delete: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
