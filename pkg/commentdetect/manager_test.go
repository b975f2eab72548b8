package commentdetect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/task"
)

type fakeFetcher struct {
	comments []task.Comment
}

func (f *fakeFetcher) GetComments(_ context.Context) ([]task.Comment, error) {
	return f.comments, nil
}

func TestManager_Disabled_NoOpEverywhere(t *testing.T) {
	m := New(&fakeFetcher{}, "")
	assert.False(t, m.Enabled())
	require.NoError(t, m.Initialize(context.Background()))
	assert.Nil(t, m.CheckForNewComments(context.Background()))
}

func TestManager_InitializeSnapshotsExisting(t *testing.T) {
	f := &fakeFetcher{comments: []task.Comment{{ID: "1", Author: "alice", Body: "hi"}}}
	m := New(f, "agent-bot")
	require.NoError(t, m.Initialize(context.Background()))

	f.comments = append(f.comments, task.Comment{ID: "2", Author: "bob", Body: "new one"})
	fresh := m.CheckForNewComments(context.Background())
	require.Len(t, fresh, 1)
	assert.Equal(t, "2", fresh[0].ID)
}

func TestManager_CheckForNewComments_ExcludesBotAuthor(t *testing.T) {
	f := &fakeFetcher{}
	m := New(f, "agent-bot")
	require.NoError(t, m.Initialize(context.Background()))

	f.comments = []task.Comment{
		{ID: "1", Author: "agent-bot", Body: "自動応答"},
		{ID: "2", Author: "carol", Body: "question"},
	}
	fresh := m.CheckForNewComments(context.Background())
	require.Len(t, fresh, 1)
	assert.Equal(t, "carol", fresh[0].Author)
}

func TestFormat_SingleAndMultiple(t *testing.T) {
	single := Format([]task.Comment{{Author: "alice", Body: "hi"}})
	assert.Contains(t, single, "[New Comment from @alice]")

	multi := Format([]task.Comment{
		{Author: "alice", Body: "hi"},
		{Author: "bob", Body: "hey"},
	})
	assert.Contains(t, multi, "[New Comments Detected]")
	assert.Contains(t, multi, "1. @alice")
	assert.Contains(t, multi, "2. @bob")
}

func TestGetState_RestoreState_RoundTrip(t *testing.T) {
	f := &fakeFetcher{comments: []task.Comment{{ID: "1", Author: "alice", Body: "hi"}}}
	m := New(f, "agent-bot")
	require.NoError(t, m.Initialize(context.Background()))

	raw, err := m.GetState()
	require.NoError(t, err)

	m2 := New(f, "agent-bot")
	require.NoError(t, m2.RestoreState(context.Background(), raw))
	assert.Equal(t, m.observedIDs, m2.observedIDs)
	assert.WithinDuration(t, m.lastCheckTime, m2.lastCheckTime, time.Second)
}

func TestRestoreState_MalformedFallsBackToInitialize(t *testing.T) {
	f := &fakeFetcher{comments: []task.Comment{{ID: "9", Author: "alice", Body: "hi"}}}
	m := New(f, "agent-bot")

	require.NoError(t, m.RestoreState(context.Background(), []byte("not json")))
	_, seen := m.observedIDs["9"]
	assert.True(t, seen)
}
