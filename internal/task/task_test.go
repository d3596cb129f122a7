package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, interval string) *app.App {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.Store.Type = app.StoreMemory
	cfg.App.MaintenanceInterval = interval
	a := app.NewAppWithStore(cfg, docstore.NewMemoryStore(nil), nil)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func put(t *testing.T, s docstore.Store, path string, v any) {
	t.Helper()
	data, err := docstore.Encode(v)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), path, data))
}

func TestPresencePurgeTask(t *testing.T) {
	a := newTestApp(t, "1h")
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	put(t, a.Store, domain.BoardPath("b1"), map[string]any{"name": "B"})
	put(t, a.Store, domain.PresenceDocPath("b1", "fresh"), domain.PresenceRecord{UserID: "fresh", LastSeen: now.Add(-time.Hour), IsOnline: true})
	put(t, a.Store, domain.PresenceDocPath("b1", "gone"), domain.PresenceRecord{UserID: "gone", LastSeen: now.Add(-48 * time.Hour), IsOnline: true})

	task, err := NewPresencePurgeTask(a)
	require.NoError(t, err)
	require.NotNil(t, task)
	task.(*PresencePurgeTask).now = func() time.Time { return now }
	assert.Equal(t, time.Hour, task.LoopInterval())

	require.NoError(t, task.Run(ctx))

	docs, err := a.Store.Query(ctx, docstore.Collection(domain.PresencePath("b1")))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "fresh", docs[0].ID)
}

func TestOrphanLinkTask(t *testing.T) {
	a := newTestApp(t, "1h")
	ctx := context.Background()

	put(t, a.Store, domain.BoardPath("b1"), map[string]any{"name": "B"})
	put(t, a.Store, domain.CardPath("b1", "c1"), map[string]any{"title": "a"})
	put(t, a.Store, domain.CardPath("b1", "c2"), map[string]any{"title": "b"})
	put(t, a.Store, domain.LinkPath("b1", "ok"), domain.NewDefaultLink("ok", "b1", "c1", "c2"))
	put(t, a.Store, domain.LinkPath("b1", "dangling"), domain.NewDefaultLink("dangling", "b1", "c1", "deleted"))

	task, err := NewOrphanLinkTask(a)
	require.NoError(t, err)
	require.NoError(t, task.Run(ctx))

	docs, err := a.Store.Query(ctx, docstore.Collection(domain.LinksPath("b1")))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok", docs[0].ID)
}

func TestManager_DisabledByZeroInterval(t *testing.T) {
	m := NewManager(nil, newTestApp(t, "0"))
	require.NoError(t, m.RegisterTasks())
	assert.Empty(t, m.scheduler.Tasks())
	m.Start(context.Background())
	m.Stop()

	m = NewManager(nil, newTestApp(t, "1h"))
	require.NoError(t, m.RegisterTasks())
	assert.Len(t, m.scheduler.Tasks(), 2)
}

type countingTask struct {
	runs     atomic.Int32
	interval time.Duration
	fail     bool
}

func (t *countingTask) Name() string                { return "counting" }
func (t *countingTask) LoopInterval() time.Duration { return t.interval }
func (t *countingTask) IsStartupRun() bool          { return true }

func (t *countingTask) Run(ctx context.Context) error {
	n := t.runs.Add(1)
	if t.fail && n == 1 {
		panic("first run panics")
	}
	if t.fail {
		return errors.New("always failing")
	}
	return nil
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := NewScheduler(nil)
	tick := &countingTask{interval: 5 * time.Millisecond}
	faulty := &countingTask{interval: 5 * time.Millisecond, fail: true}
	once := &countingTask{}
	s.AddTask(tick)
	s.AddTask(faulty)
	s.AddTask(once)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return tick.runs.Load() >= 3 && faulty.runs.Load() >= 3 }, 2*time.Second, time.Millisecond,
		"panics and errors do not stop the loop")
	s.Stop()

	n := tick.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, tick.runs.Load())
	assert.Equal(t, int32(1), once.runs.Load())
}
