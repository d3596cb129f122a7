// Package storetest behavior shared by every docstore.Store implementation
// Package storetest 所有 docstore.Store 实现共享的行为测试
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SnapshotSink collects pushes of one subscription
type SnapshotSink struct {
	mu    sync.Mutex
	snaps []docstore.Snapshot
	errs  []error
}

// OnSnapshot records snap
func (s *SnapshotSink) OnSnapshot(snap docstore.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

// OnError records err
func (s *SnapshotSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Last most recent snapshot
func (s *SnapshotSink) Last() (docstore.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return docstore.Snapshot{}, false
	}
	return s.snaps[len(s.snaps)-1], true
}

// Errors errors received so far
func (s *SnapshotSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Count number of snapshots received
func (s *SnapshotSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

// IDs document ids of the most recent snapshot, nil before the first one
func (s *SnapshotSink) IDs() []string {
	snap, ok := s.Last()
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		ids = append(ids, d.ID)
	}
	return ids
}

// EventuallyIDs waits until the last snapshot of sink holds exactly want
func EventuallyIDs(t *testing.T, sink *SnapshotSink, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	require.Eventually(t, func() bool {
		got := sink.IDs()
		if got == nil {
			return false
		}
		return assert.ObjectsAreEqual(want, got)
	}, 2*time.Second, 5*time.Millisecond, "want %v, last %v", want, sink.IDs())
}

// RunContract exercises the behavior every docstore.Store implementation shares
// RunContract 运行所有 docstore.Store 实现共享的行为测试
func RunContract(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	ctx := context.Background()

	t.Run("PutGetMerge", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "boards/b1/cards/c1", map[string]any{
			"title":    "Clue",
			"position": map[string]any{"x": 1, "y": 2},
		}))
		require.NoError(t, s.Put(ctx, "boards/b1/cards/c1", map[string]any{
			"position": map[string]any{"x": 10},
			"meta":     map[string]any{"updatedBy": "u1"},
		}, docstore.Merge()))

		d, err := s.Get(ctx, "boards/b1/cards/c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", d.ID)
		assert.Equal(t, "Clue", d.Data["title"])
		assert.Equal(t, map[string]any{"x": float64(10), "y": float64(2)}, d.Data["position"])
		assert.Equal(t, "u1", d.Data["meta"].(map[string]any)["updatedBy"])

		require.NoError(t, s.Put(ctx, "boards/b1/cards/c1", map[string]any{"title": "Replaced"}))
		d, err = s.Get(ctx, "boards/b1/cards/c1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"title": "Replaced"}, d.Data)

		_, err = s.Get(ctx, "boards/b1/cards/missing")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
		assert.ErrorIs(t, s.Put(ctx, "boards/b1/cards", map[string]any{}), docstore.ErrInvalidPath)
	})

	t.Run("UpdateTransforms", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Update(ctx, "boards/b1", docstore.Set([]string{"name"}, "x")), docstore.ErrNotFound)

		require.NoError(t, s.Put(ctx, "boards/b1", map[string]any{
			"name":      "Board",
			"members":   map[string]any{"u1": map[string]any{"role": "owner"}},
			"memberIds": []any{"u1"},
		}))
		require.NoError(t, s.Update(ctx, "boards/b1",
			docstore.Set([]string{"members", "u.2"}, map[string]any{"role": "editor"}),
			docstore.ArrayUnion([]string{"memberIds"}, "u.2", "u1"),
		))

		d, err := s.Get(ctx, "boards/b1")
		require.NoError(t, err)
		assert.Equal(t, []any{"u1", "u.2"}, d.Data["memberIds"])
		assert.Contains(t, d.Data["members"], "u.2")

		require.NoError(t, s.Update(ctx, "boards/b1",
			docstore.Remove([]string{"members", "u.2"}),
			docstore.ArrayRemove([]string{"memberIds"}, "u.2"),
			docstore.Set([]string{"shareCode"}, "ABCDEFGH"),
		))
		d, err = s.Get(ctx, "boards/b1")
		require.NoError(t, err)
		assert.Equal(t, []any{"u1"}, d.Data["memberIds"])
		assert.NotContains(t, d.Data["members"], "u.2")
		assert.Equal(t, "ABCDEFGH", d.Data["shareCode"])

		assert.ErrorIs(t, s.Update(ctx, "boards/b1", docstore.ArrayUnion([]string{"name"}, "x")), docstore.ErrInvalidUpdate)
	})

	t.Run("QueryFilters", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "boards/b1", map[string]any{"memberIds": []any{"u1", "u2"}, "shareCode": "AAAA2222"}))
		require.NoError(t, s.Put(ctx, "boards/b2", map[string]any{"memberIds": []any{"u2"}, "shareCode": "BBBB3333"}))
		require.NoError(t, s.Put(ctx, "boards/b1/cards/c1", map[string]any{"title": "nested"}))

		docs, err := s.Query(ctx, docstore.Collection("boards", docstore.Where("memberIds", docstore.OpArrayContains, "u2")))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b1", docs[0].ID)

		docs, err = s.Query(ctx, docstore.Collection("boards", docstore.Where("shareCode", docstore.OpEqual, "BBBB3333")))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "b2", docs[0].ID)

		docs, err = s.Query(ctx, docstore.Collection("boards", docstore.Where("memberIds", docstore.OpArrayContains, "u9")))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("BatchDelete", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"l1", "l2", "l3"} {
			require.NoError(t, s.Put(ctx, "boards/b1/links/"+id, map[string]any{"sourceCardId": "c1"}))
		}
		require.NoError(t, s.BatchDelete(ctx, []string{"boards/b1/links/l1", "boards/b1/links/l2"}))
		require.NoError(t, s.Delete(ctx, "boards/b1/links/missing"))

		docs, err := s.Query(ctx, docstore.Collection("boards/b1/links"))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "l3", docs[0].ID)
	})

	t.Run("SubscribeCollection", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "boards/b1/cards/c1", map[string]any{"title": "a"}))

		sink := &SnapshotSink{}
		unsub, err := s.Subscribe(docstore.Collection("boards/b1/cards"), sink.OnSnapshot, sink.OnError)
		require.NoError(t, err)
		EventuallyIDs(t, sink, "c1")

		require.NoError(t, s.Put(ctx, "boards/b1/cards/c2", map[string]any{"title": "b"}))
		EventuallyIDs(t, sink, "c1", "c2")

		require.NoError(t, s.Put(ctx, "boards/b2/cards/c9", map[string]any{"title": "other board"}))
		require.NoError(t, s.Delete(ctx, "boards/b1/cards/c1"))
		EventuallyIDs(t, sink, "c2")

		unsub()
		n := sink.Count()
		require.NoError(t, s.Put(ctx, "boards/b1/cards/c3", map[string]any{"title": "c"}))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, n, sink.Count())
	})

	t.Run("SubscribeDocumentAndFilteredList", func(t *testing.T) {
		s := newStore(t)

		doc := &SnapshotSink{}
		unsubDoc, err := s.Subscribe(docstore.Doc("boards/b1"), doc.OnSnapshot, doc.OnError)
		require.NoError(t, err)
		defer unsubDoc()
		require.Eventually(t, func() bool {
			snap, ok := doc.Last()
			return ok && !snap.Exists
		}, 2*time.Second, 5*time.Millisecond)

		list := &SnapshotSink{}
		unsubList, err := s.Subscribe(docstore.Collection("boards", docstore.Where("memberIds", docstore.OpArrayContains, "u2")), list.OnSnapshot, list.OnError)
		require.NoError(t, err)
		defer unsubList()
		EventuallyIDs(t, list)

		require.NoError(t, s.Put(ctx, "boards/b1", map[string]any{"name": "B", "memberIds": []any{"u1"}}))
		require.Eventually(t, func() bool {
			snap, ok := doc.Last()
			d, exists := snap.Doc()
			return ok && exists && d.Data["name"] == "B"
		}, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, s.Update(ctx, "boards/b1", docstore.ArrayUnion([]string{"memberIds"}, "u2")))
		EventuallyIDs(t, list, "b1")

		require.NoError(t, s.Update(ctx, "boards/b1", docstore.ArrayRemove([]string{"memberIds"}, "u2")))
		EventuallyIDs(t, list)
	})
}

