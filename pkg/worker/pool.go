// Package worker implements the consumer side: a pool of goroutines
// that pull task descriptors off the queue, materialize them against the
// forge, and run either the issue→change-request converter or the
// dialogue driver to completion, checkpointing progress between turns
// and releasing orphaned tasks whose worker died mid-run.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/agentd/pkg/checkpoint"
	"github.com/agentforge/agentd/pkg/convert"
	"github.com/agentforge/agentd/pkg/dialogue"
	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/lifecycle"
	"github.com/agentforge/agentd/pkg/llm"
	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
)

// ToolSession is the subset of *mcptool.Client the worker needs: dispatch
// a tool call, and release the underlying subprocess session when the
// dialogue run ends.
type ToolSession interface {
	dialogue.ToolCaller
	Close() error
}

// ToolSessionFactory opens a fresh MCP tool-server session for one task
// run. Each dialogue run gets its own subprocess session — workers never
// share a stdio pipe — and the worker closes it when the run ends.
type ToolSessionFactory func(ctx context.Context) (ToolSession, error)

// CheckpointStore is the subset of *checkpoint.Store the pool needs,
// defined locally so tests can substitute an in-memory fake instead of a
// real Postgres-backed Store.
type CheckpointStore interface {
	Save(ctx context.Context, key task.Key, state checkpoint.State) error
	Get(ctx context.Context, key task.Key) (checkpoint.State, error)
	Exists(ctx context.Context, key task.Key) (bool, error)
	Delete(ctx context.Context, key task.Key) error
	StaleKeys(ctx context.Context, before time.Time) ([]task.Key, error)
}

// UsageRecorder is the subset of *tokenusage.Store the pool needs, defined
// locally so tests can substitute an in-memory fake.
type UsageRecorder interface {
	Record(ctx context.Context, username string, day time.Time, llmCalls, toolCalls, totalTokens int64) error
}

// Options configures a Pool.
type Options struct {
	WorkerCount   int
	MinInterval   time.Duration // minimum gap between a worker finishing one task and starting the next
	ConvertIssues bool          // whether issue-kind tasks route through the converter before the dialogue
	BotUsername   string        // empty disables comment-detection
	LabelPolicy   task.LabelPolicy
	Dialogue      dialogue.Options
}

func (o Options) withDefaults() Options {
	if o.WorkerCount <= 0 {
		o.WorkerCount = 1
	}
	if o.LabelPolicy == (task.LabelPolicy{}) {
		o.LabelPolicy = task.DefaultLabelPolicy
	}
	return o
}

// Pool owns a fixed number of worker goroutines sharing one queue, one
// checkpoint store, and one forge client per configured source.
type Pool struct {
	queue       taskqueue.Queue
	forges      map[task.Source]forge.Client
	checkpoints CheckpointStore
	llmClient   llm.Client
	tools       ToolSessionFactory
	converter   *convert.Converter
	signals     *lifecycle.Signals
	heartbeat   *lifecycle.Heartbeat
	usage       UsageRecorder
	opts        Options

	wg sync.WaitGroup
}

// New builds a Pool. converter, heartbeat, and usage may all be nil
// (conversion disabled, no heartbeat file configured, token-usage telemetry
// disabled, respectively).
func New(
	queue taskqueue.Queue,
	forges map[task.Source]forge.Client,
	checkpoints CheckpointStore,
	llmClient llm.Client,
	tools ToolSessionFactory,
	converter *convert.Converter,
	signals *lifecycle.Signals,
	heartbeat *lifecycle.Heartbeat,
	usage UsageRecorder,
	opts Options,
) *Pool {
	return &Pool{
		queue:       queue,
		forges:      forges,
		checkpoints: checkpoints,
		llmClient:   llmClient,
		tools:       tools,
		converter:   converter,
		signals:     signals,
		heartbeat:   heartbeat,
		usage:       usage,
		opts:        opts.withDefaults(),
	}
}

// Start launches opts.WorkerCount worker goroutines. It returns immediately;
// call Wait to block until every worker has exited (after Signals.Stop).
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.WorkerCount; i++ {
		w := &worker{id: fmt.Sprintf("worker-%d", i+1), pool: p}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
	slog.Info("worker pool started", "workers", p.opts.WorkerCount)
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }
