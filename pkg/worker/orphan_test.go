package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/checkpoint"
	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/task"
)

func TestOrphanSweeper_ReclaimsStaleCheckpoint(t *testing.T) {
	key := task.GitHubPullRequest("acme", "widgets", 42)
	rememberTestKey(key)

	cp := newFakeCheckpoints()
	require.NoError(t, cp.Save(context.Background(), key, checkpoint.State{}))
	cp.updated[key.String()] = time.Now().Add(-time.Hour)

	fc := newFakeForge("coding agent", "coding agent processing")

	s := NewOrphanSweeper(cp, map[task.Source]forge.Client{task.SourceGitHub: fc}, task.DefaultLabelPolicy, time.Minute, time.Hour)
	s.sweep(context.Background())

	assert.Contains(t, fc.removed, "coding agent processing")
	exists, _ := cp.Exists(context.Background(), key)
	assert.False(t, exists)

	lastSweep, recovered := s.Stats()
	assert.False(t, lastSweep.IsZero())
	assert.Equal(t, 1, recovered)
}

func TestOrphanSweeper_IgnoresFreshCheckpoint(t *testing.T) {
	key := task.GitHubPullRequest("acme", "widgets", 43)
	rememberTestKey(key)

	cp := newFakeCheckpoints()
	require.NoError(t, cp.Save(context.Background(), key, checkpoint.State{}))

	fc := newFakeForge("coding agent", "coding agent processing")

	s := NewOrphanSweeper(cp, map[task.Source]forge.Client{task.SourceGitHub: fc}, task.DefaultLabelPolicy, time.Hour, time.Hour)
	s.sweep(context.Background())

	assert.Empty(t, fc.removed)
	exists, _ := cp.Exists(context.Background(), key)
	assert.True(t, exists)
}

func TestOrphanSweeper_UnknownSourceLeavesCheckpointInPlace(t *testing.T) {
	key := task.GitLabChangeRequest(9, 1)
	rememberTestKey(key)

	cp := newFakeCheckpoints()
	require.NoError(t, cp.Save(context.Background(), key, checkpoint.State{}))
	cp.updated[key.String()] = time.Now().Add(-time.Hour)

	s := NewOrphanSweeper(cp, map[task.Source]forge.Client{}, task.DefaultLabelPolicy, time.Minute, time.Hour)
	s.sweep(context.Background())

	exists, _ := cp.Exists(context.Background(), key)
	assert.True(t, exists)
}
