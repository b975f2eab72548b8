package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func testServer() (*Server, *taskqueue.MemoryQueue) {
	q := taskqueue.NewMemoryQueue(4)
	cfg := Config{
		GitHubSecret:   "ghsecret",
		GitHubBotLabel: "coding agent",
		GitLabToken:    "gltoken",
		GitLabBotLabel: "coding agent",
	}
	return NewServer(cfg, q), q
}

func TestHandleGitHub_RejectsBadSignature(t *testing.T) {
	s, _ := testServer()
	body := []byte(`{"action":"labeled"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGitHub_IgnoresNonLabeledAction(t *testing.T) {
	s, q := testServer()
	body := []byte(`{"action":"opened","repository":{"owner":{"login":"acme"},"name":"widgets"},"issue":{"number":1,"user":{"login":"alice"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sign("ghsecret", body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	empty, _ := q.Empty(req.Context())
	assert.True(t, empty)
}

func TestHandleGitHub_EnqueuesOnLabelMatch(t *testing.T) {
	s, q := testServer()
	body := []byte(`{
		"action":"labeled",
		"label":{"name":"coding agent"},
		"repository":{"owner":{"login":"acme"},"name":"widgets"},
		"issue":{"number":42,"user":{"login":"alice"}}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sign("ghsecret", body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])

	got, err := q.Get(req.Context(), make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, task.GitHubIssue("acme", "widgets", 42), got.Key)
	assert.Equal(t, "alice", got.User)
}

func TestHandleGitLabProject_RejectsBadToken(t *testing.T) {
	s, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Gitlab-Event", "Issue Hook")
	req.Header.Set("X-Gitlab-Token", "wrong")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGitLabProject_EnqueuesMergeRequestOnLabelMatch(t *testing.T) {
	s, q := testServer()
	body := []byte(`{
		"object_attributes":{"iid":9,"action":"update"},
		"project":{"id":42},
		"user":{"username":"bob"},
		"labels":[{"title":"coding agent"}]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", bytes.NewReader(body))
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	req.Header.Set("X-Gitlab-Token", "gltoken")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := q.Get(req.Context(), make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, task.GitLabChangeRequest(42, 9), got.Key)
	assert.Equal(t, "bob", got.User)
}

func TestHandleGitLabSystem_NoTokenConfiguredAlwaysRejects(t *testing.T) {
	s, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab/system", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Gitlab-Event", "Issue Hook")
	req.Header.Set("X-Gitlab-Token", "anything")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
