package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentd/pkg/checkpoint"
	"github.com/agentforge/agentd/pkg/convert"
	"github.com/agentforge/agentd/pkg/dialogue"
	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/lifecycle"
	"github.com/agentforge/agentd/pkg/llm"
	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
)

// fakeQueue hands out a fixed set of descriptors once each, then reports
// ErrEmpty forever.
type fakeQueue struct {
	mu    sync.Mutex
	items []task.Descriptor
}

func (q *fakeQueue) Put(_ context.Context, desc task.Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, desc)
	return nil
}

func (q *fakeQueue) Get(_ context.Context, _ <-chan struct{}) (task.Descriptor, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return task.Descriptor{}, taskqueue.ErrEmpty
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, nil
}

func (q *fakeQueue) Empty(context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0, nil
}

func (q *fakeQueue) Close() error { return nil }

// fakeForge implements forge.Client minimally for worker tests.
type fakeForge struct {
	mu sync.Mutex

	title, body, author string
	labels              []string

	comments []string
	added    []string
	removed  []string
}

func newFakeForge(labels ...string) *fakeForge {
	return &fakeForge{title: "a bug", body: "details", author: "alice", labels: labels}
}

func (f *fakeForge) GetComments(context.Context, task.Key) ([]task.Comment, error) { return nil, nil }

func (f *fakeForge) Comment(_ context.Context, _ task.Key, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeForge) AddLabel(_ context.Context, _ task.Key, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, name)
	for _, l := range f.labels {
		if l == name {
			return nil
		}
	}
	f.labels = append(f.labels, name)
	return nil
}

func (f *fakeForge) RemoveLabel(_ context.Context, _ task.Key, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	out := f.labels[:0]
	for _, l := range f.labels {
		if l != name {
			out = append(out, l)
		}
	}
	f.labels = out
	return nil
}

func (f *fakeForge) ListItemsWithLabel(context.Context, forge.RepoRef, string, forge.ItemState) ([]task.Descriptor, error) {
	return nil, nil
}

func (f *fakeForge) GetItem(_ context.Context, _ task.Key) (string, string, string, []string, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	labels := append([]string(nil), f.labels...)
	return f.title, f.body, f.author, labels, nil, nil
}

func (f *fakeForge) SetLabels(_ context.Context, _ task.Key, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = names
	return nil
}

func (f *fakeForge) ListBranches(context.Context, forge.RepoRef) ([]forge.Branch, error) { return nil, nil }
func (f *fakeForge) CreateBranch(context.Context, forge.RepoRef, string, string) error    { return nil }
func (f *fakeForge) CreateOrEmptyCommit(context.Context, forge.RepoRef, string, string) error {
	return nil
}
func (f *fakeForge) OpenChangeRequest(context.Context, forge.RepoRef, string, string, string, string, bool) (forge.ChangeRequestRef, error) {
	return forge.ChangeRequestRef{}, nil
}
func (f *fakeForge) UpdateChangeRequest(context.Context, task.Key, *string, []string, []string) error {
	return nil
}
func (f *fakeForge) DeleteBranch(context.Context, forge.RepoRef, string) error { return nil }
func (f *fakeForge) ResolveUserID(_ context.Context, username string) (string, error) {
	return username, nil
}
func (f *fakeForge) RepoOf(task.Key) forge.RepoRef { return forge.RepoRef{Owner: "acme", Repo: "widgets"} }
func (f *fakeForge) DefaultBranch(context.Context, forge.RepoRef) (string, error) { return "main", nil }

var _ forge.Client = (*fakeForge)(nil)

// fakeCheckpoints is an in-memory CheckpointStore.
type fakeCheckpoints struct {
	mu      sync.Mutex
	states  map[string]checkpoint.State
	updated map[string]time.Time
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{states: map[string]checkpoint.State{}, updated: map[string]time.Time{}}
}

func (c *fakeCheckpoints) Save(_ context.Context, key task.Key, state checkpoint.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[key.String()] = state
	c.updated[key.String()] = time.Now()
	return nil
}

func (c *fakeCheckpoints) Get(_ context.Context, key task.Key) (checkpoint.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[key.String()]
	if !ok {
		return checkpoint.State{}, checkpoint.ErrNotFound
	}
	return s, nil
}

func (c *fakeCheckpoints) Exists(_ context.Context, key task.Key) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[key.String()]
	return ok, nil
}

func (c *fakeCheckpoints) Delete(_ context.Context, key task.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, key.String())
	delete(c.updated, key.String())
	return nil
}

func (c *fakeCheckpoints) StaleKeys(_ context.Context, before time.Time) ([]task.Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []task.Key
	for k, t := range c.updated {
		if t.Before(before) {
			keys = append(keys, mustParseTestKey(k))
		}
	}
	return keys, nil
}

// mustParseTestKey is a test-only shortcut: fakeCheckpoints never needs to
// round-trip an arbitrary string key because every test seeds exactly one
// well-known key, stashed here for StaleKeys to hand back.
var testKeyByString = map[string]task.Key{}

func mustParseTestKey(s string) task.Key {
	return testKeyByString[s]
}

func rememberTestKey(k task.Key) {
	testKeyByString[k.String()] = k
}

type fakeLLM struct {
	done bool
}

func (f *fakeLLM) Complete(context.Context, []llm.Message, llm.Options) (llm.Reply, llm.TokenUsage, error) {
	return llm.Reply{Content: `{"done": true} all set`}, llm.TokenUsage{TotalTokens: 1}, nil
}

// fakeToolSession never has CallTool invoked in these tests — fakeLLM
// always replies {"done": true} on the first turn — but runDialogue always
// opens and closes one, so the factory must hand back something real.
type fakeToolSession struct{}

func (fakeToolSession) CallTool(context.Context, string, map[string]any) (string, error) {
	return "", nil
}
func (fakeToolSession) Close() error { return nil }

func fakeToolFactory(context.Context) (ToolSession, error) {
	return fakeToolSession{}, nil
}

func newPool(t *testing.T, q taskqueue.Queue, fc *fakeForge, cp *fakeCheckpoints, conv *convert.Converter) *Pool {
	t.Helper()
	return newPoolWithUsage(t, q, fc, cp, conv, nil)
}

func newPoolWithUsage(t *testing.T, q taskqueue.Queue, fc *fakeForge, cp *fakeCheckpoints, conv *convert.Converter, usage UsageRecorder) *Pool {
	t.Helper()
	signals := &lifecycle.Signals{}
	return New(
		q,
		map[task.Source]forge.Client{task.SourceGitHub: fc},
		cp,
		&fakeLLM{},
		fakeToolFactory,
		conv,
		signals,
		nil,
		usage,
		Options{WorkerCount: 1, ConvertIssues: conv != nil},
	)
}

type usageCall struct {
	username                         string
	llmCalls, toolCalls, totalTokens int64
}

type fakeUsageRecorder struct {
	mu    sync.Mutex
	calls []usageCall
}

func (f *fakeUsageRecorder) Record(_ context.Context, username string, _ time.Time, llmCalls, toolCalls, totalTokens int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, usageCall{username, llmCalls, toolCalls, totalTokens})
	return nil
}

func (f *fakeUsageRecorder) snapshot() []usageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]usageCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestWorker_DialogueRun_FinalizesOnDone(t *testing.T) {
	key := task.GitHubPullRequest("acme", "widgets", 5)
	rememberTestKey(key)
	desc := task.Descriptor{UUID: "u1", Key: key, User: "alice"}

	q := &fakeQueue{items: []task.Descriptor{desc}}
	fc := newFakeForge("coding agent")
	cp := newFakeCheckpoints()

	p := newPool(t, q, fc, cp, nil)
	w := &worker{id: "test-worker", pool: p}

	err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	assert.Contains(t, fc.removed, "coding agent")
	assert.Contains(t, fc.added, "done")
	exists, _ := cp.Exists(context.Background(), key)
	assert.False(t, exists)
}

func TestWorker_DialogueRun_RecordsTokenUsageForTriggeringUser(t *testing.T) {
	key := task.GitHubPullRequest("acme", "widgets", 55)
	rememberTestKey(key)
	desc := task.Descriptor{UUID: "u1", Key: key, User: "alice"}

	q := &fakeQueue{items: []task.Descriptor{desc}}
	fc := newFakeForge("coding agent")
	cp := newFakeCheckpoints()
	usage := &fakeUsageRecorder{}

	p := newPoolWithUsage(t, q, fc, cp, nil, usage)
	w := &worker{id: "test-worker", pool: p}

	require.NoError(t, w.pollAndProcess(context.Background()))

	calls := usage.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].username)
	assert.Equal(t, int64(1), calls[0].llmCalls)
	assert.Equal(t, int64(1), calls[0].totalTokens)
}

func TestWorker_PollAndProcess_DropsTaskMissingBotLabel(t *testing.T) {
	key := task.GitHubPullRequest("acme", "widgets", 6)
	rememberTestKey(key)
	desc := task.Descriptor{UUID: "u1", Key: key, User: "alice"}

	q := &fakeQueue{items: []task.Descriptor{desc}}
	fc := newFakeForge() // no bot label present
	cp := newFakeCheckpoints()

	p := newPool(t, q, fc, cp, nil)
	w := &worker{id: "test-worker", pool: p}

	err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fc.comments)
	assert.Empty(t, fc.added)
}

func TestWorker_IssueTask_RoutesThroughConverterWhenEnabled(t *testing.T) {
	key := task.GitHubIssue("acme", "widgets", 7)
	rememberTestKey(key)
	desc := task.Descriptor{UUID: "u1", Key: key, User: "alice"}

	q := &fakeQueue{items: []task.Descriptor{desc}}
	fc := newFakeForge("coding agent")
	cp := newFakeCheckpoints()
	conv := convert.New(fc, &fakeLLM{}, convert.Options{Enabled: true})

	p := newPool(t, q, fc, cp, conv)
	w := &worker{id: "test-worker", pool: p}

	err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	// A successful conversion performs its own label handoff; the worker
	// must not also run the dialogue driver against the issue.
	assert.Contains(t, fc.removed, "coding agent")
	assert.Contains(t, fc.added, "done")
}

func TestWorker_IssueTask_RunsDialogueWhenConversionDisabled(t *testing.T) {
	key := task.GitHubIssue("acme", "widgets", 8)
	rememberTestKey(key)
	desc := task.Descriptor{UUID: "u1", Key: key, User: "alice"}

	q := &fakeQueue{items: []task.Descriptor{desc}}
	fc := newFakeForge("coding agent")
	cp := newFakeCheckpoints()

	p := newPool(t, q, fc, cp, nil) // ConvertIssues false: no converter wired
	w := &worker{id: "test-worker", pool: p}

	err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fc.removed, "coding agent")
	assert.Contains(t, fc.added, "done")
}

func TestWorker_ResumesFromExistingCheckpoint(t *testing.T) {
	key := task.GitHubPullRequest("acme", "widgets", 9)
	rememberTestKey(key)
	desc := task.Descriptor{UUID: "u1", Key: key, User: "alice"}

	q := &fakeQueue{items: []task.Descriptor{desc}}
	fc := newFakeForge("coding agent", "coding agent processing")
	cp := newFakeCheckpoints()
	require.NoError(t, cp.Save(context.Background(), key, checkpoint.State{
		Dialogue: task.DialogueState{TurnIndex: 3, History: []task.TurnRecord{{Role: "user", Content: "hi"}}},
	}))

	p := newPool(t, q, fc, cp, nil)
	w := &worker{id: "test-worker", pool: p}

	err := w.pollAndProcess(context.Background())
	require.NoError(t, err)

	// Resumed dialogue state (turn index 3, non-empty history) is picked
	// up rather than started fresh — the fakeLLM's single {"done": true}
	// reply still finalizes the task on the very next turn.
	assert.Contains(t, fc.removed, "coding agent")
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 1, o.WorkerCount)
	assert.Equal(t, task.DefaultLabelPolicy, o.LabelPolicy)
}

func TestDialogueOptionsTypeAlias(t *testing.T) {
	// Guards against Options.Dialogue silently drifting from dialogue.Options'
	// shape across refactors.
	var _ dialogue.Options = Options{}.Dialogue
}
