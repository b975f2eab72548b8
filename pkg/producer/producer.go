// Package producer implements the periodic polling loop: list open
// items carrying the bot label on every configured forge/repo, enqueue a
// descriptor for each, touch a heartbeat, and sleep until the next
// iteration. agentd starts it whenever producer.enabled is set, alongside
// the webhook server.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/lifecycle"
	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
)

// Target names one repository/project to poll for the bot label on a given
// forge.
type Target struct {
	Source   task.Source
	Repo     forge.RepoRef
	BotLabel string
}

// signalChecker is the subset of lifecycle.Signals the loop needs; kept as
// a local interface so this package has no hard runtime dependency beyond
// what it actually calls (mirrors the same pattern used by pkg/dialogue and
// pkg/worker).
type signalChecker interface {
	ShouldSuspend() bool
	StopCh() <-chan struct{}
}

// pollGranularity is how finely the fixed-interval sleep is chopped up so a
// shutdown request is observed promptly rather than after a multi-minute
// sleep completes.
const pollGranularity = 100 * time.Millisecond

// Loop polls a fixed set of targets on a schedule and feeds discovered
// items into a queue for the worker pool to pick up.
type Loop struct {
	targets   []Target
	forges    map[task.Source]forge.Client
	queue     taskqueue.Queue
	signals   signalChecker
	heartbeat *lifecycle.Heartbeat
}

// New builds a Loop. heartbeat may be nil to disable heartbeat touches
// (tests, or a deployment with no health-check sidecar).
func New(targets []Target, forges map[task.Source]forge.Client, queue taskqueue.Queue, signals signalChecker, heartbeat *lifecycle.Heartbeat) *Loop {
	return &Loop{targets: targets, forges: forges, queue: queue, signals: signals, heartbeat: heartbeat}
}

// RunFixedInterval runs the producer on a fixed sleep-based schedule until
// the shutdown signal fires. It polls once immediately, then sleeps
// interval between iterations, checking for shutdown every pollGranularity
// so a SIGTERM isn't held up by a long sleep.
func (l *Loop) RunFixedInterval(ctx context.Context, interval time.Duration) {
	for {
		l.iterate(ctx)

		if l.sleepWithSignalChecks(interval) {
			return
		}
	}
}

// sleepWithSignalChecks sleeps for d in pollGranularity-sized chunks,
// returning true early if shutdown is requested mid-sleep.
func (l *Loop) sleepWithSignalChecks(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-l.signals.StopCh():
			return true
		case <-time.After(pollGranularity):
		}
	}
	select {
	case <-l.signals.StopCh():
		return true
	default:
		return false
	}
}

// RunCron runs the producer on a cron-style schedule instead of a fixed
// interval, for deployments that want time-of-day or weekday-aware
// scheduling rather than a uniform gap. It blocks until ctx is done or the
// shutdown signal fires, then stops the underlying cron scheduler and
// returns.
func (l *Loop) RunCron(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { l.iterate(ctx) }); err != nil {
		return fmt.Errorf("producer: invalid cron schedule %q: %w", spec, err)
	}

	c.Start()
	defer func() { <-c.Stop().Done() }()

	l.iterate(ctx) // run once immediately, same as RunFixedInterval

	select {
	case <-ctx.Done():
	case <-l.signals.StopCh():
	}
	return nil
}

// iterate runs exactly one poll cycle: list items per target, enqueue a
// fresh descriptor for each, and touch the heartbeat. Errors against one
// target are logged and skipped — they must not abort the rest of the
// targets in this cycle or the cycle after it.
func (l *Loop) iterate(ctx context.Context) {
	for _, t := range l.targets {
		if l.signals != nil && l.signals.ShouldSuspend() {
			return
		}

		fc, ok := l.forges[t.Source]
		if !ok {
			slog.Error("producer: no forge client configured for source", "source", t.Source)
			continue
		}

		descs, err := fc.ListItemsWithLabel(ctx, t.Repo, t.BotLabel, forge.ItemStateOpen)
		if err != nil {
			slog.Error("producer: list items with label failed", "source", t.Source, "error", err)
			continue
		}

		for _, d := range descs {
			d.UUID = uuid.NewString()
			d.EnqueuedAt = time.Now()

			if err := l.queue.Put(ctx, d); err != nil {
				slog.Error("producer: enqueue failed", "task_key", d.Key.String(), "error", err)
				continue
			}
		}
	}

	if l.heartbeat != nil {
		if err := l.heartbeat.Touch(); err != nil {
			slog.Warn("producer: heartbeat touch failed", "error", err)
		}
	}
}
