package userconfig_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/userconfig"
	testdb "github.com/agentforge/agentd/test/database"
)

func testResolver(t *testing.T, defaults userconfig.Defaults) (*userconfig.Resolver, *userconfig.Store) {
	client := testdb.NewTestClient(t)
	store := userconfig.NewStore(client.DB())
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return userconfig.NewResolver(store, key, defaults), store
}

func TestResolver_Resolve_ReturnsDefaultsWhenNoOverride(t *testing.T) {
	defaults := userconfig.Defaults{
		LLM:              userconfig.LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
		SystemPrompt:     "ambient prompt",
		MaxLLMProcessNum: 1000,
	}
	resolver, _ := testResolver(t, defaults)

	cfg, err := resolver.Resolve(context.Background(), "github", "nobody")
	require.NoError(t, err)
	assert.Equal(t, defaults.LLM, cfg.LLM)
	assert.Equal(t, defaults.SystemPrompt, cfg.SystemPrompt)
	assert.Equal(t, defaults.MaxLLMProcessNum, cfg.MaxLLMProcessNum)
}

func TestResolver_Resolve_MergesModelAndDecryptsKey(t *testing.T) {
	defaults := userconfig.Defaults{
		LLM:              userconfig.LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
		MaxLLMProcessNum: 1000,
	}
	resolver, _ := testResolver(t, defaults)
	ctx := context.Background()

	require.NoError(t, resolver.SetAPIKey(ctx, "github", "alice", "sk-alice-secret"))
	require.NoError(t, resolver.Store().Upsert(ctx, mustGet(t, resolver, "github", "alice", "gpt-4o-mini")))

	cfg, err := resolver.Resolve(ctx, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL) // ambient base URL preserved
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)                 // overridden
	assert.Equal(t, "sk-alice-secret", cfg.LLM.APIKey)            // decrypted
}

func TestResolver_Resolve_AppendsAdditionalSystemPrompt(t *testing.T) {
	defaults := userconfig.Defaults{SystemPrompt: "base prompt", MaxLLMProcessNum: 1000}
	resolver, store := testResolver(t, defaults)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, userconfig.Record{
		Username: "carol", Platform: "gitlab", SystemPrompt: "extra instructions",
	}))

	cfg, err := resolver.Resolve(ctx, "gitlab", "carol")
	require.NoError(t, err)
	assert.Equal(t, "base prompt\n\nextra instructions", cfg.SystemPrompt)
}

func TestResolver_Resolve_MalformedStoredKeyFallsBackToAmbient(t *testing.T) {
	defaults := userconfig.Defaults{LLM: userconfig.LLMConfig{APIKey: "ambient-key"}, MaxLLMProcessNum: 1000}
	resolver, store := testResolver(t, defaults)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, userconfig.Record{
		Username: "dave", Platform: "github", EncryptedAPIKey: "not-valid-base64-blob!!",
	}))

	cfg, err := resolver.Resolve(ctx, "github", "dave")
	require.NoError(t, err)
	assert.Equal(t, "ambient-key", cfg.LLM.APIKey)
}

// mustGet fetches the existing record (written by SetAPIKey) and returns a
// copy with model overridden, for the merge test above.
func mustGet(t *testing.T, r *userconfig.Resolver, platform, username, model string) userconfig.Record {
	t.Helper()
	rec, err := r.Store().Get(context.Background(), platform, username)
	require.NoError(t, err)
	rec.Model = model
	return rec
}
