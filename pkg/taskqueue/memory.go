package taskqueue

import (
	"context"

	"github.com/agentforge/agentd/pkg/task"
)

// MemoryQueue is a single-process, channel-backed Queue. Suitable for
// single-replica deployments and tests; state is lost on process restart.
type MemoryQueue struct {
	ch chan task.Descriptor
}

// NewMemoryQueue builds a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{ch: make(chan task.Descriptor, capacity)}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Put(ctx context.Context, desc task.Descriptor) error {
	select {
	case q.ch <- desc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Get(ctx context.Context, stopCh <-chan struct{}) (task.Descriptor, error) {
	select {
	case desc := <-q.ch:
		return desc, nil
	case <-ctx.Done():
		return task.Descriptor{}, ErrEmpty
	case <-stopCh:
		return task.Descriptor{}, ErrEmpty
	}
}

func (q *MemoryQueue) Empty(_ context.Context) (bool, error) {
	return len(q.ch) == 0, nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
