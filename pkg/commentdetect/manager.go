// Package commentdetect tracks which forge comments a dialogue has already
// seen, so new human comments posted mid-task can be injected into the next
// LLM turn.
package commentdetect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentforge/agentd/pkg/task"
)

// CommentFetcher is the subset of task.Task the manager needs to re-fetch
// comments and know which author is the bot.
type CommentFetcher interface {
	GetComments(ctx context.Context) ([]task.Comment, error)
}

// Manager implements the comment-detection state machine. Detection is a
// no-op when BotUsername is empty (enabled derives from whether a bot
// username is configured for the active forge).
type Manager struct {
	fetcher       CommentFetcher
	botUsername   string
	observedIDs   map[string]struct{}
	lastCheckTime time.Time
}

// New builds a Manager bound to fetcher. botUsername == "" disables
// detection entirely (Enabled() reports false and every operation is a
// no-op).
func New(fetcher CommentFetcher, botUsername string) *Manager {
	return &Manager{
		fetcher:     fetcher,
		botUsername: botUsername,
		observedIDs: make(map[string]struct{}),
	}
}

// Enabled reports whether a bot username was configured for the active
// forge.
func (m *Manager) Enabled() bool { return m.botUsername != "" }

// Initialize snapshots the current comment list as already-observed, so
// CheckForNewComments only ever surfaces comments posted after task start.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	comments, err := m.fetcher.GetComments(ctx)
	if err != nil {
		return fmt.Errorf("commentdetect: initialize: %w", err)
	}
	for _, c := range comments {
		m.observedIDs[c.ID] = struct{}{}
	}
	m.lastCheckTime = time.Now()
	return nil
}

// CheckForNewComments re-fetches comments and returns every one not yet
// observed and not authored by the bot, in original order. Fetch failures
// are tolerated by returning an empty slice rather than an error, so a
// transient forge blip never aborts the dialogue turn.
func (m *Manager) CheckForNewComments(ctx context.Context) []task.Comment {
	if !m.Enabled() {
		return nil
	}
	comments, err := m.fetcher.GetComments(ctx)
	if err != nil {
		return nil
	}

	var fresh []task.Comment
	for _, c := range comments {
		if _, seen := m.observedIDs[c.ID]; seen {
			continue
		}
		if c.Author == m.botUsername {
			m.observedIDs[c.ID] = struct{}{}
			continue
		}
		fresh = append(fresh, c)
		m.observedIDs[c.ID] = struct{}{}
	}
	m.lastCheckTime = time.Now()
	return fresh
}

// Format renders comments for injection into the dialogue: a single
// comment uses the inline "[New Comment from @author]" form; multiple
// comments use a numbered "[New Comments Detected]" list.
func Format(comments []task.Comment) string {
	if len(comments) == 0 {
		return ""
	}
	if len(comments) == 1 {
		c := comments[0]
		return fmt.Sprintf("[New Comment from @%s]:\n%s", c.Author, c.Body)
	}

	out := "[New Comments Detected]:\n"
	for i, c := range comments {
		out += fmt.Sprintf("%d. @%s: %s\n", i+1, c.Author, c.Body)
	}
	return out
}

// state is the JSON-serializable snapshot round-tripped via GetState /
// RestoreState.
type state struct {
	ObservedIDs   []string  `json:"observed_ids"`
	LastCheckTime time.Time `json:"last_check_time"`
}

// GetState serializes the manager's observed-ID set and last-check time for
// checkpointing.
func (m *Manager) GetState() (json.RawMessage, error) {
	ids := make([]string, 0, len(m.observedIDs))
	for id := range m.observedIDs {
		ids = append(ids, id)
	}
	body, err := json.Marshal(state{ObservedIDs: ids, LastCheckTime: m.lastCheckTime})
	if err != nil {
		return nil, fmt.Errorf("commentdetect: marshal state: %w", err)
	}
	return body, nil
}

// RestoreState loads a previously saved state. A malformed or empty raw
// payload falls back to Initialize rather than erroring, since a corrupt
// checkpoint should degrade to "start tracking from now" instead of
// blocking the task.
func (m *Manager) RestoreState(ctx context.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return m.Initialize(ctx)
	}

	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return m.Initialize(ctx)
	}

	m.observedIDs = make(map[string]struct{}, len(s.ObservedIDs))
	for _, id := range s.ObservedIDs {
		m.observedIDs[id] = struct{}{}
	}
	m.lastCheckTime = s.LastCheckTime
	return nil
}
