package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/pkg/workerpool"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	writes []map[string]any
}

func (r *recorder) flush(ctx context.Context, key Key, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, fields)
	return nil
}

func (r *recorder) snapshot() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.writes...)
}

var cardKey = Key{Collection: "boards/b1/cards", ID: "c1"}

func TestManager_CoalescesIntoOneWrite(t *testing.T) {
	m := New(nil, nil, nil)
	rec := &recorder{}

	require.NoError(t, m.Schedule(cardKey, 30*time.Millisecond, map[string]any{"title": "a"}, rec.flush))
	require.NoError(t, m.Schedule(cardKey, 30*time.Millisecond, map[string]any{"content": "x"}, rec.flush))
	require.NoError(t, m.Schedule(cardKey, 30*time.Millisecond, map[string]any{"title": "b"}, rec.flush))

	pending, ok := m.Pending(cardKey)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "b", "content": "x"}, pending)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Wait(context.Background()))
	assert.Equal(t, map[string]any{"title": "b", "content": "x"}, rec.snapshot()[0])
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_CancelDropsPendingWrite(t *testing.T) {
	m := New(nil, nil, nil)
	rec := &recorder{}

	require.NoError(t, m.Schedule(cardKey, 20*time.Millisecond, map[string]any{"title": "a"}, rec.flush))
	assert.True(t, m.Cancel(cardKey))
	assert.False(t, m.Cancel(cardKey))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_CancelMatchingByCollection(t *testing.T) {
	m := New(nil, nil, nil)
	rec := &recorder{}

	other := Key{Collection: "boards/b2/cards", ID: "c9"}
	require.NoError(t, m.Schedule(cardKey, 50*time.Millisecond, map[string]any{"a": 1}, rec.flush))
	require.NoError(t, m.Schedule(Key{Collection: "boards/b1/links", ID: "l1"}, 50*time.Millisecond, map[string]any{"a": 1}, rec.flush))
	require.NoError(t, m.Schedule(other, 10*time.Millisecond, map[string]any{"a": 2}, rec.flush))

	n := m.CancelMatching(func(k Key) bool { return k.Collection == "boards/b1/cards" || k.Collection == "boards/b1/links" })
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []map[string]any{{"a": 2}}, rec.snapshot())
}

func TestManager_OneWriteInFlightPerKey(t *testing.T) {
	m := New(nil, workerpool.New(&workerpool.Config{Workers: 4}, nil), nil)

	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})
	var calls atomic.Int32
	var last atomic.Value

	flush := func(ctx context.Context, key Key, fields map[string]any) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		if calls.Add(1) == 1 {
			<-release
		}
		last.Store(fields["v"])
		return nil
	}

	require.NoError(t, m.Schedule(cardKey, 0, map[string]any{"v": 1}, flush))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	// due while the first write is still running
	require.NoError(t, m.Schedule(cardKey, 0, map[string]any{"v": 2}, flush))
	require.NoError(t, m.Schedule(cardKey, 0, map[string]any{"v": 3}, flush))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, m.Wait(context.Background()))
	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.Equal(t, 3, last.Load())
}

func TestManager_OnSettledReportsErrors(t *testing.T) {
	m := New(nil, nil, nil)
	want := errors.New("offline")

	got := make(chan error, 1)
	m.OnSettled(func(key Key, err error) { got <- err })
	require.NoError(t, m.Schedule(cardKey, 0, map[string]any{"a": 1}, func(ctx context.Context, key Key, fields map[string]any) error {
		return want
	}))

	select {
	case err := <-got:
		assert.ErrorIs(t, err, want)
	case <-time.After(time.Second):
		t.Fatal("settled hook not called")
	}
}

func TestManager_FlushAndShutdown(t *testing.T) {
	m := New(nil, nil, nil)
	rec := &recorder{}

	require.NoError(t, m.Schedule(cardKey, time.Hour, map[string]any{"a": 1}, rec.flush))
	m.Flush(cardKey)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Schedule(cardKey, time.Hour, map[string]any{"a": 2}, rec.flush))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Len(t, rec.snapshot(), 2)
	assert.ErrorIs(t, m.Schedule(cardKey, 0, map[string]any{"a": 3}, rec.flush), ErrClosed)
	assert.False(t, m.Busy(nil))
}

func TestManager_CoalescingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("rapid schedules produce one write carrying the last values", prop.ForAll(
		func(titles []string, xs []int) bool {
			m := New(nil, nil, nil)
			rec := &recorder{}
			for i, title := range titles {
				fields := map[string]any{"title": title}
				if i < len(xs) {
					fields["x"] = xs[i]
				}
				if err := m.Schedule(cardKey, 15*time.Millisecond, fields, rec.flush); err != nil {
					return false
				}
			}
			if err := m.Shutdown(context.Background()); err != nil {
				return false
			}
			writes := rec.snapshot()
			if len(writes) != 1 || writes[0]["title"] != titles[len(titles)-1] {
				return false
			}
			if len(xs) > 0 {
				lastX := xs[min(len(xs), len(titles))-1]
				return writes[0]["x"] == lastX
			}
			_, hasX := writes[0]["x"]
			return !hasX
		},
		gen.SliceOf(gen.AlphaString()).SuchThat(func(v []string) bool { return len(v) > 0 }),
		gen.SliceOf(gen.IntRange(0, 5000)),
	))

	properties.TestingRun(t)
}
