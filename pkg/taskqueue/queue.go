// Package taskqueue provides the durable work queue that decouples
// webhook ingress and the periodic producer loop from the worker pool that
// actually runs the dialogue driver. Two backends satisfy the same Queue
// interface: an in-process channel queue for single-replica/dev deployments,
// and a RabbitMQ-backed queue for durable, multi-replica deployments.
package taskqueue

import (
	"context"
	"errors"

	"github.com/agentforge/agentd/pkg/task"
)

// ErrEmpty is returned by Get when no item is available within the
// requested wait.
var ErrEmpty = errors.New("taskqueue: empty")

// Queue is the backend-agnostic work queue the producer, webhook
// ingress, and worker pool all share.
type Queue interface {
	// Put enqueues a task descriptor.
	Put(ctx context.Context, desc task.Descriptor) error

	// Get waits for the next descriptor, or returns ErrEmpty once ctx is
	// done / stopCh closes without one becoming available. Workers pass a
	// stopCh tied to graceful-shutdown/pause signals so a blocked Get can't
	// wedge process exit.
	Get(ctx context.Context, stopCh <-chan struct{}) (task.Descriptor, error)

	// Empty reports whether the queue currently holds no pending items.
	// Best-effort on distributed backends (a concurrent Put can race it).
	Empty(ctx context.Context) (bool, error)

	// Close releases any underlying connection.
	Close() error
}
