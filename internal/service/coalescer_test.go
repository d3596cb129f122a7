package service

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/cache"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/metrics"
	"github.com/haierkeys/fast-board-sync/pkg/writequeue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCoalescer(t *testing.T) (*WriteCoalescer, *recordingStore, *writequeue.Manager) {
	t.Helper()
	store := newRecordingStore()
	q := writequeue.New(nil, nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	w := NewWriteCoalescer(q, store, cache.New(), testConfig(), metrics.NewCollector(), zap.NewNop())
	return w, store, q
}

func TestWriteCoalescer_Keys(t *testing.T) {
	card := CardKey("b1", "c1")
	assert.Equal(t, "boards/b1/cards/c1", card.String())
	assert.True(t, isEntityKey(card))

	presence := PresenceKey("b1", "u1")
	assert.Equal(t, "boards/b1/presence/u1", presence.String())
	assert.False(t, isEntityKey(presence))

	assert.Equal(t, "cards", kind("boards/b1/cards"))
	assert.Equal(t, "boards", kind("boards"))
}

func TestWriteCoalescer_CardFlushSetsSynced(t *testing.T) {
	w, store, q := newTestCoalescer(t)
	assert.Equal(t, domain.SyncIdle, w.Status())

	require.NoError(t, w.ScheduleCard("b1", "c1", "u1", 10*time.Millisecond, map[string]any{"title": "a"}))
	require.NoError(t, w.ScheduleCard("b1", "c1", "u1", 10*time.Millisecond, map[string]any{"content": "b"}))
	assert.Equal(t, domain.SyncSyncing, w.Status())
	fields, ok := w.Pending(CardKey("b1", "c1"))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "a", "content": "b"}, fields)

	require.Eventually(t, func() bool { return w.Status() == domain.SyncSynced }, waitFor, 5*time.Millisecond)
	assert.False(t, q.Busy(isEntityKey))

	puts := store.putsTo("boards/b1/cards/c1")
	require.Len(t, puts, 1)
	assert.Equal(t, "a", puts[0].doc["title"])
	assert.Equal(t, "b", puts[0].doc["content"])
	assert.Equal(t, "u1", puts[0].doc["meta"].(map[string]any)["updatedBy"])
}

func TestWriteCoalescer_FlushNow(t *testing.T) {
	w, store, _ := newTestCoalescer(t)

	require.NoError(t, w.ScheduleCard("b1", "c1", "u1", time.Hour, map[string]any{"title": "now"}))
	w.Flush(CardKey("b1", "c1"))
	require.Eventually(t, func() bool { return len(store.putsTo("boards/b1/cards/c1")) == 1 }, waitFor, 5*time.Millisecond)
}

func TestWriteCoalescer_CancelRecomputesStatus(t *testing.T) {
	w, store, _ := newTestCoalescer(t)

	require.NoError(t, w.ScheduleCard("b1", "c1", "u1", time.Hour, map[string]any{"title": "never"}))
	require.NoError(t, w.ScheduleCard("b1", "c2", "u1", time.Hour, map[string]any{"title": "never"}))

	assert.True(t, w.Cancel(CardKey("b1", "c1")))
	assert.Equal(t, domain.SyncSyncing, w.Status(), "c2 is still pending")
	assert.False(t, w.Cancel(CardKey("b1", "c1")))

	assert.True(t, w.Cancel(CardKey("b1", "c2")))
	assert.Equal(t, domain.SyncSynced, w.Status())
	assert.Empty(t, store.putsTo("boards/b1/cards/c1"))
}

func TestWriteCoalescer_CancelBoardIsScoped(t *testing.T) {
	w, _, _ := newTestCoalescer(t)

	require.NoError(t, w.ScheduleCard("b1", "c1", "u1", time.Hour, map[string]any{"title": "x"}))
	require.NoError(t, w.SchedulePresence("b1", "u1", time.Hour, map[string]any{"isOnline": true}))
	require.NoError(t, w.ScheduleCard("b10", "c1", "u1", time.Hour, map[string]any{"title": "y"}))

	assert.Equal(t, 2, w.CancelBoard("b1"))
	_, ok := w.Pending(CardKey("b10", "c1"))
	assert.True(t, ok, "a board whose id shares a prefix is untouched")
	assert.Equal(t, domain.SyncSyncing, w.Status())

	assert.Equal(t, 1, w.CancelAll())
}

func TestWriteCoalescer_PresenceLeavesStatusAlone(t *testing.T) {
	w, store, _ := newTestCoalescer(t)

	require.NoError(t, w.SchedulePresence("b1", "u1", 0, map[string]any{"isOnline": true}))
	assert.Equal(t, domain.SyncIdle, w.Status())
	require.Eventually(t, func() bool { return len(store.putsTo("boards/b1/presence/u1")) == 1 }, waitFor, 5*time.Millisecond)

	doc := store.putsTo("boards/b1/presence/u1")[0].doc
	assert.Contains(t, doc, "lastSeen")
	assert.Equal(t, true, doc["isOnline"])

	store.failWrites.Store(true)
	require.NoError(t, w.SchedulePresence("b1", "u1", 0, map[string]any{"isOnline": true}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.SyncIdle, w.Status(), "failed presence writes are not sync errors")
}

func TestWriteCoalescer_DirectWrites(t *testing.T) {
	w, _, _ := newTestCoalescer(t)

	w.Begin()
	w.Begin()
	assert.Equal(t, domain.SyncSyncing, w.Status())
	require.NoError(t, w.End("boards/b1/cards", nil))
	assert.Equal(t, domain.SyncSyncing, w.Status(), "one direct write is still outstanding")
	require.NoError(t, w.End("boards/b1/cards", nil))
	assert.Equal(t, domain.SyncSynced, w.Status())

	w.Begin()
	assert.ErrorIs(t, w.End("boards/b1/cards", errInjected), errInjected)
	assert.Equal(t, domain.SyncError, w.Status())

	w.SetStatus(domain.SyncSynced)
	w.Begin()
	assert.ErrorIs(t, w.End("boards/b1/links", context.Canceled), context.Canceled)
	assert.Equal(t, domain.SyncSynced, w.Status(), "cancellation is not an error")
}

func TestWriteCoalescer_MarkSyncedWaitsForWrites(t *testing.T) {
	w, _, _ := newTestCoalescer(t)

	require.NoError(t, w.ScheduleCard("b1", "c1", "u1", time.Hour, map[string]any{"title": "x"}))
	w.MarkSynced()
	assert.Equal(t, domain.SyncSyncing, w.Status())

	w.Cancel(CardKey("b1", "c1"))
	w.SetStatus(domain.SyncError)
	w.MarkSynced()
	assert.Equal(t, domain.SyncSynced, w.Status())
}
