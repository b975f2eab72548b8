package userconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// LLMConfig is the provider-facing shape returned to a coding-agent caller:
// enough to build an llm.HTTPClient without the resolver importing pkg/llm
// (it has no opinion on retry/turn semantics, only on which endpoint/model/
// key a user resolves to).
type LLMConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model"`
}

// ResolvedConfig is what GET /config/{platform}/{username} returns: ambient
// defaults, merged with any per-user override.
type ResolvedConfig struct {
	LLM              LLMConfig `json:"llm"`
	SystemPrompt     string    `json:"system_prompt"`
	MaxLLMProcessNum int       `json:"max_llm_process_num"`
}

// Defaults are the ambient, process-wide fallbacks applied when a user has
// no override row (or an override that only sets some fields).
type Defaults struct {
	LLM              LLMConfig
	SystemPrompt     string
	MaxLLMProcessNum int
}

// DefaultMaxLLMProcessNum mirrors the source system's fallback when no
// configuration sets a cap.
const DefaultMaxLLMProcessNum = 1000

// DefaultsFromEnv builds Defaults from the ambient LLM_API_BASE/
// LLM_API_KEY/LLM_MODEL environment variables.
func DefaultsFromEnv() Defaults {
	return Defaults{
		LLM: LLMConfig{
			BaseURL: os.Getenv("LLM_API_BASE"),
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   os.Getenv("LLM_MODEL"),
		},
		MaxLLMProcessNum: DefaultMaxLLMProcessNum,
	}
}

// Resolver answers per-user LLM configuration lookups, merging Defaults
// with an optional user_configs override row.
type Resolver struct {
	store         *Store
	encryptionKey []byte
	defaults      Defaults
}

func NewResolver(store *Store, encryptionKey []byte, defaults Defaults) *Resolver {
	return &Resolver{store: store, encryptionKey: encryptionKey, defaults: defaults}
}

// Store exposes the underlying Store for callers (admin tooling, tests)
// that need direct record access beyond Resolve/SetAPIKey.
func (r *Resolver) Store() *Store { return r.store }

// Resolve returns the effective configuration for (platform, username). A
// missing override row is not an error — the ambient defaults are returned
// unchanged, matching every caller that has never configured a per-user
// override.
func (r *Resolver) Resolve(ctx context.Context, platform, username string) (ResolvedConfig, error) {
	out := ResolvedConfig{
		LLM:              r.defaults.LLM,
		SystemPrompt:     r.defaults.SystemPrompt,
		MaxLLMProcessNum: r.defaults.MaxLLMProcessNum,
	}

	rec, err := r.store.Get(ctx, platform, username)
	if errors.Is(err, ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return ResolvedConfig{}, fmt.Errorf("userconfig: resolve: %w", err)
	}

	if rec.Model != "" {
		out.LLM.Model = rec.Model
	}
	if rec.EncryptedAPIKey != "" {
		blob, err := ParseEncryptedBlob(rec.EncryptedAPIKey)
		if err != nil {
			slog.Warn("userconfig: stored key is malformed, falling back to ambient key", "username", username, "error", err)
		} else if plain, err := blob.Decrypt(r.encryptionKey); err != nil {
			slog.Warn("userconfig: decrypt stored key failed, falling back to ambient key", "username", username, "error", err)
		} else {
			out.LLM.APIKey = plain
		}
	}
	if rec.SystemPrompt != "" {
		if out.SystemPrompt != "" {
			out.SystemPrompt = out.SystemPrompt + "\n\n" + rec.SystemPrompt
		} else {
			out.SystemPrompt = rec.SystemPrompt
		}
	}
	if rec.MaxLLMProcessNum != nil {
		out.MaxLLMProcessNum = *rec.MaxLLMProcessNum
	}

	return out, nil
}

// SetAPIKey encrypts apiKey under the resolver's key and upserts it onto
// the user's override row, preserving any other already-set fields.
func (r *Resolver) SetAPIKey(ctx context.Context, platform, username, apiKey string) error {
	rec, err := r.store.Get(ctx, platform, username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("userconfig: load existing record: %w", err)
	}
	rec.Username = username
	rec.Platform = platform

	blob, err := Encrypt(apiKey, r.encryptionKey)
	if err != nil {
		return fmt.Errorf("userconfig: encrypt api key: %w", err)
	}
	rec.EncryptedAPIKey = blob.String()

	return r.store.Upsert(ctx, rec)
}
