package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_String_DisjointAcrossForges(t *testing.T) {
	gh := GitHubIssue("acme", "widgets", 42)
	gl := GitLabIssue(7, 42)

	assert.NotEqual(t, gh.String(), gl.String())
	assert.Equal(t, "github/acme/widgets/issue/42", gh.String())
	assert.Equal(t, "gitlab/7/issue/42", gl.String())
}

func TestKey_IsChangeRequest(t *testing.T) {
	assert.False(t, GitHubIssue("a", "b", 1).IsChangeRequest())
	assert.True(t, GitHubPullRequest("a", "b", 1).IsChangeRequest())
	assert.True(t, GitLabChangeRequest(1, 2).IsChangeRequest())
}

func TestKey_MarshalJSON_TaggedRecord(t *testing.T) {
	k := GitHubPullRequest("acme", "widgets", 7)
	b, err := json.Marshal(k)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "github.change_request", decoded["type"])
	assert.Equal(t, "acme", decoded["owner"])
	assert.Equal(t, float64(7), decoded["number"])
}
