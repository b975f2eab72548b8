package checkpoint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/checkpoint"
	"github.com/agentforge/agentd/pkg/task"
	testdb "github.com/agentforge/agentd/test/database"
)

func TestStore_SaveGetDeleteRoundTrip(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := checkpoint.NewStore(client.DB())
	ctx := context.Background()
	key := task.GitHubIssue("acme", "widgets", 7)

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	state := checkpoint.State{Dialogue: task.DialogueState{TurnIndex: 3, PreviousOutput: "hi"}}
	require.NoError(t, store.Save(ctx, key, state))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, state.Dialogue.TurnIndex, got.Dialogue.TurnIndex)
	assert.Equal(t, state.Dialogue.PreviousOutput, got.Dialogue.PreviousOutput)

	state.Dialogue.TurnIndex = 4
	require.NoError(t, store.Save(ctx, key, state))
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Dialogue.TurnIndex)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
