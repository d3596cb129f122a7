package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/docstore/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Contract(t *testing.T) {
	storetest.RunContract(t, func(t *testing.T) docstore.Store {
		mr := miniredis.RunT(t)
		s, err := docstore.NewRedisStore("redis://"+mr.Addr(), "test:", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore_SharedBetweenProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := docstore.NewRedisStore("redis://"+mr.Addr(), "shared:", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := docstore.NewRedisStore("redis://"+mr.Addr(), "shared:", nil)
	require.NoError(t, err)
	defer b.Close()

	sink := &storetest.SnapshotSink{}
	unsub, err := b.Subscribe(docstore.Collection("boards/b1/cards"), sink.OnSnapshot, sink.OnError)
	require.NoError(t, err)
	defer unsub()
	storetest.EventuallyIDs(t, sink)

	require.NoError(t, a.Put(ctx, "boards/b1/cards/c1", map[string]any{"title": "from a"}))
	storetest.EventuallyIDs(t, sink, "c1")

	snap, _ := sink.Last()
	assert.Equal(t, "from a", snap.Docs[0].Data["title"])
}

func TestRedisStore_BadURL(t *testing.T) {
	_, err := docstore.NewRedisStore("not-a-url", "", nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	start := time.Now()
	_, err = docstore.NewRedisStore("redis://"+addr, "", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
