package tokenusage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/tokenusage"
	testdb "github.com/agentforge/agentd/test/database"
)

func TestStore_Record_AccumulatesWithinADay(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := tokenusage.NewStore(client.DB())
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "alice", now, 1, 2, 100))
	require.NoError(t, store.Record(ctx, "alice", now, 1, 0, 50))

	totals, err := store.Totals(ctx, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, int64(150), totals.Today)
}

func TestStore_Totals_WindowsAccumulateAcrossDays(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := tokenusage.NewStore(client.DB())
	ctx := context.Background()

	// A Wednesday, so "this week" includes Monday/Tuesday of the same week.
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, "bob", now, 0, 0, 10)) // today
	require.NoError(t, store.Record(ctx, "bob", now.AddDate(0, 0, -1), 0, 0, 20)) // yesterday (this week)
	require.NoError(t, store.Record(ctx, "bob", now.AddDate(0, 0, -10), 0, 0, 40)) // earlier this month
	require.NoError(t, store.Record(ctx, "bob", now.AddDate(0, -1, 0), 0, 0, 999)) // last month, excluded from month total

	totals, err := store.Totals(ctx, "bob", now)
	require.NoError(t, err)
	assert.Equal(t, int64(10), totals.Today)
	assert.Equal(t, int64(30), totals.ThisWeek)
	assert.Equal(t, int64(70), totals.ThisMonth)
}

func TestStore_History_ZeroFillsMissingDays(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := tokenusage.NewStore(client.DB())
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "carol", now, 0, 0, 5))
	require.NoError(t, store.Record(ctx, "carol", now.AddDate(0, 0, -2), 0, 0, 7))

	hist, err := store.History(ctx, "carol", 3, now)
	require.NoError(t, err)
	require.Len(t, hist.Days, 3)
	assert.Equal(t, int64(7), hist.Days[0].Tokens)
	assert.Equal(t, int64(0), hist.Days[1].Tokens)
	assert.Equal(t, int64(5), hist.Days[2].Tokens)
}

func TestStore_History_ClampsDaysToValidRange(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := tokenusage.NewStore(client.DB())
	ctx := context.Background()
	now := time.Now()

	hist, err := store.History(ctx, "dave", 0, now)
	require.NoError(t, err)
	assert.Len(t, hist.Days, 1)

	hist, err = store.History(ctx, "dave", 10000, now)
	require.NoError(t, err)
	assert.Len(t, hist.Days, 365)
}

func TestStore_Summary_OrdersByMonthTotalDescending(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := tokenusage.NewStore(client.DB())
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "low", now, 0, 0, 10))
	require.NoError(t, store.Record(ctx, "high", now, 0, 0, 500))

	summary, err := store.Summary(ctx, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(summary), 2)
	assert.Equal(t, "high", summary[0].Username)
}
