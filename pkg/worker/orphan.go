package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/task"
)

// DefaultOrphanTTL is how long a checkpoint can go untouched before its
// task is considered orphaned — its worker died without ever reaching a
// terminal outcome or a fresh checkpoint write.
const DefaultOrphanTTL = 30 * time.Minute

const defaultOrphanSweepInterval = 5 * time.Minute

// OrphanSweeper periodically reclaims tasks whose checkpoint has gone
// stale: it clears the processing label so a future poll picks the item up
// fresh, and deletes the stale checkpoint so the next worker starts the
// dialogue over rather than resuming from possibly-inconsistent state.
type OrphanSweeper struct {
	checkpoints CheckpointStore
	forges      map[task.Source]forge.Client
	labels      task.LabelPolicy
	ttl         time.Duration
	interval    time.Duration

	mu        sync.Mutex
	lastSweep time.Time
	recovered int
}

// NewOrphanSweeper builds a sweeper. ttl and interval fall back to
// DefaultOrphanTTL / defaultOrphanSweepInterval when zero.
func NewOrphanSweeper(checkpoints CheckpointStore, forges map[task.Source]forge.Client, labels task.LabelPolicy, ttl, interval time.Duration) *OrphanSweeper {
	if ttl <= 0 {
		ttl = DefaultOrphanTTL
	}
	if interval <= 0 {
		interval = defaultOrphanSweepInterval
	}
	return &OrphanSweeper{checkpoints: checkpoints, forges: forges, labels: labels, ttl: ttl, interval: interval}
}

// Run ticks until ctx is done or stopCh closes, sweeping once immediately
// on start. Safe to run on every pod concurrently — reclaiming an
// already-reclaimed task is a harmless no-op (RemoveLabel/Delete are both
// idempotent against an already-absent label/row).
func (s *OrphanSweeper) Run(ctx context.Context, stopCh <-chan struct{}) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OrphanSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.ttl)
	keys, err := s.checkpoints.StaleKeys(ctx, cutoff)
	if err != nil {
		slog.Error("orphan sweep: stale-key query failed", "error", err)
		return
	}

	recovered := 0
	for _, key := range keys {
		if err := s.reclaim(ctx, key); err != nil {
			slog.Warn("orphan sweep: reclaim failed", "task_key", key.String(), "error", err)
			continue
		}
		recovered++
	}

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.recovered += recovered
	s.mu.Unlock()

	if recovered > 0 {
		slog.Warn("orphan sweep: reclaimed stale tasks", "count", recovered)
	}
}

func (s *OrphanSweeper) reclaim(ctx context.Context, key task.Key) error {
	fc, ok := s.forges[key.Source]
	if !ok {
		return fmt.Errorf("no forge client configured for source %q, leaving processing label in place", key.Source)
	}
	if err := fc.RemoveLabel(ctx, key, s.labels.Processing); err != nil {
		return err
	}
	return s.checkpoints.Delete(ctx, key)
}

// Stats reports the sweeper's last-run time and cumulative recovery count,
// for the health/status surface.
func (s *OrphanSweeper) Stats() (lastSweep time.Time, recovered int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep, s.recovered
}
