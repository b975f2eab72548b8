package userconfig_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/userconfig"
)

func TestServer_RejectsMissingOrWrongBearerToken(t *testing.T) {
	resolver, _ := testResolver(t, userconfig.Defaults{MaxLLMProcessNum: 1000})
	srv := userconfig.NewServer(resolver, "correct-key")

	req := httptest.NewRequest(http.MethodGet, "/config/github/alice", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/config/github/alice", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_GetConfig_ReturnsResolvedDefaults(t *testing.T) {
	defaults := userconfig.Defaults{
		LLM:              userconfig.LLMConfig{Model: "gpt-4o"},
		SystemPrompt:     "be helpful",
		MaxLLMProcessNum: 1000,
	}
	resolver, _ := testResolver(t, defaults)
	srv := userconfig.NewServer(resolver, "correct-key")

	req := httptest.NewRequest(http.MethodGet, "/config/github/nobody", nil)
	req.Header.Set("Authorization", "Bearer correct-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	llm := data["llm"].(map[string]any)
	assert.Equal(t, "gpt-4o", llm["model"])
	assert.Equal(t, "be helpful", data["system_prompt"])
}
