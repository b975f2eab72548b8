package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Heartbeat touches a per-role health file on each loop iteration, so an
// external health check can alert on staleness. The staleness threshold
// itself is an operator concern, not something this type enforces.
type Heartbeat struct {
	path string
}

// NewHeartbeat builds a Heartbeat writer for role under dir (created if
// missing).
func NewHeartbeat(dir, role string) (*Heartbeat, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: create healthcheck dir: %w", err)
	}
	return &Heartbeat{path: filepath.Join(dir, role+".health")}, nil
}

// Touch writes the current ISO-8601 timestamp to the heartbeat file.
func (h *Heartbeat) Touch() error {
	ts := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(h.path, []byte(ts), 0o644); err != nil {
		return fmt.Errorf("lifecycle: write heartbeat: %w", err)
	}
	return nil
}
