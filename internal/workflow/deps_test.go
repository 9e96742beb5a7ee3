package workflow

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	busmemory "github.com/AI-static/Aether/internal/bus/memory"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
	storagememory "github.com/AI-static/Aether/internal/storage/memory"
	"github.com/AI-static/Aether/internal/task"
)

// fakeRouter scripts the router calls a unit makes. Handlers run on the
// executor's goroutine, so they must not call into testing.T; tests record
// arguments and assert afterwards.
type fakeRouter struct {
	mu sync.Mutex

	searchFn  func(pf platform.Platform, keyword string, limit int) ([]map[string]any, error)
	extractFn func(urls []string, pf platform.Platform) []content.ExtractionResult
	harvestFn func(pf platform.Platform, userID string, opts content.HarvestOptions) ([]map[string]any, error)
	publishFn func(pf platform.Platform, req content.PublishRequest) (content.PublishReceipt, error)

	searchCalls  int
	extractCalls int
	harvestCalls int
	publishCalls int
	extractURLs  [][]string
	publishReqs  []content.PublishRequest
}

func (r *fakeRouter) SearchAndExtract(_ context.Context, pf platform.Platform, keyword string, limit int) ([]map[string]any, error) {
	r.mu.Lock()
	r.searchCalls++
	fn := r.searchFn
	r.mu.Unlock()
	if fn == nil {
		return nil, content.ErrUnsupportedOperation
	}
	return fn(pf, keyword, limit)
}

func (r *fakeRouter) Extract(_ context.Context, urls []string, pf platform.Platform, _ int) (<-chan content.ExtractionResult, error) {
	r.mu.Lock()
	r.extractCalls++
	r.extractURLs = append(r.extractURLs, append([]string(nil), urls...))
	fn := r.extractFn
	r.mu.Unlock()
	if fn == nil {
		return nil, content.ErrUnsupportedOperation
	}
	return stream(fn(urls, pf)...), nil
}

func (r *fakeRouter) Harvest(_ context.Context, pf platform.Platform, userID string, opts content.HarvestOptions) ([]map[string]any, error) {
	r.mu.Lock()
	r.harvestCalls++
	fn := r.harvestFn
	r.mu.Unlock()
	if fn == nil {
		return nil, content.ErrUnsupportedOperation
	}
	return fn(pf, userID, opts)
}

func (r *fakeRouter) Publish(_ context.Context, pf platform.Platform, req content.PublishRequest) (content.PublishReceipt, error) {
	r.mu.Lock()
	r.publishCalls++
	r.publishReqs = append(r.publishReqs, req)
	fn := r.publishFn
	r.mu.Unlock()
	if fn == nil {
		return content.PublishReceipt{}, content.ErrUnsupportedOperation
	}
	return fn(pf, req)
}

func (r *fakeRouter) calls() (search, extract, harvest, publish int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searchCalls, r.extractCalls, r.harvestCalls, r.publishCalls
}

func stream(results ...content.ExtractionResult) <-chan content.ExtractionResult {
	ch := make(chan content.ExtractionResult, len(results))
	for _, res := range results {
		ch <- res
	}
	close(ch)
	return ch
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// seqIDs mints deterministic ids so tests can assert on minted context ids.
type seqIDs struct {
	mu   sync.Mutex
	ids  int
	ctxs int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids++
	return fmt.Sprintf("int-%d", g.ids), nil
}

func (g *seqIDs) NewContextID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctxs++
	return fmt.Sprintf("ctx-%d", g.ctxs), nil
}

// fakeBlobs records archived objects so tests can assert on bundle content.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *fakeBlobs) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = data
	b.types[path] = contentType
	return "blob://" + path, nil
}

func (b *fakeBlobs) object(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return data, ok
}

// rig wires a unit's collaborators around the real in-memory task store so
// every persisted write round-trips through the JSON codec, the way a
// production run does.
type rig struct {
	store  *storagememory.TaskStore
	exec   *task.Executor
	router *fakeRouter
	clock  *fakeClock
	bus    *busmemory.Bus
	blobs  *fakeBlobs
	ids    *seqIDs
}

func newRig(now time.Time) *rig {
	store := storagememory.NewTaskStore()
	clock := &fakeClock{now: now}
	ids := &seqIDs{}
	return &rig{
		store:  store,
		exec:   task.NewExecutor(task.Deps{Store: store, Clock: clock, IDs: ids}),
		router: &fakeRouter{},
		clock:  clock,
		bus:    busmemory.New(),
		blobs:  newFakeBlobs(),
		ids:    ids,
	}
}

func (r *rig) deps() Deps {
	return Deps{
		Router: r.router,
		Store:  r.store,
		Bus:    r.bus,
		Blobs:  r.blobs,
		Clock:  r.clock,
		IDs:    r.ids,
	}
}

// startTask seeds a running task record, the state a worker hands a unit.
func (r *rig) startTask(t *testing.T, id, taskType string, params map[string]any) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk := task.New(id, "api", "user-1", taskType, params, r.clock.Now())
	require.NoError(t, r.store.Create(ctx, tk))
	require.NoError(t, r.exec.Start(ctx, tk))
	return tk
}

func (r *rig) stored(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := r.store.Get(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func logStep(t *testing.T, tk *task.Task, step int) task.LogEntry {
	t.Helper()
	for _, entry := range tk.Logs {
		if entry.Step == step {
			return entry
		}
	}
	t.Fatalf("no log entry for step %d in %v", step, tk.Logs)
	return task.LogEntry{}
}

func stepNames(tk *task.Task) []string {
	out := make([]string, 0, len(tk.Logs))
	for _, entry := range tk.Logs {
		out = append(out, entry.Name)
	}
	return out
}
