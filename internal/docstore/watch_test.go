package docstore_test

import (
	"errors"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/docstore/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_PushAndUnsubscribe(t *testing.T) {
	f := docstore.NewFanout(nil)
	defer f.Close()

	a, b := &storetest.SnapshotSink{}, &storetest.SnapshotSink{}
	idA, unsubA := f.Add(docstore.Collection("boards"), a.OnSnapshot, a.OnError)
	idB, unsubB := f.Add(docstore.Collection("boards"), b.OnSnapshot, b.OnError)
	defer unsubB()
	require.NotEqual(t, idA, idB)

	assert.True(t, f.Push(idA, docstore.Snapshot{Docs: []docstore.Document{{ID: "b1", Path: "boards/b1"}}}))
	storetest.EventuallyIDs(t, a, "b1")
	assert.Zero(t, b.Count(), "pushes are addressed")

	unsubA()
	unsubA()
	assert.False(t, f.Push(idA, docstore.Snapshot{}))
	assert.False(t, f.PushError(idA, errors.New("gone")))

	boom := errors.New("boom")
	f.Broadcast(boom)
	require.Eventually(t, func() bool { return len(b.Errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.Errors()[0], boom)
	assert.Empty(t, a.Errors())
}

func TestFanout_LatestWins(t *testing.T) {
	f := docstore.NewFanout(nil)
	defer f.Close()

	release := make(chan struct{})
	seen := make(chan string, 16)
	id, unsub := f.Add(docstore.Collection("boards"), func(s docstore.Snapshot) {
		if len(s.Docs) > 0 {
			seen <- s.Docs[0].ID
		}
		<-release
	}, nil)
	defer unsub()

	f.Push(id, docstore.Snapshot{Docs: []docstore.Document{{ID: "first"}}})
	require.Equal(t, "first", <-seen)

	for _, docID := range []string{"second", "third", "fourth"} {
		f.Push(id, docstore.Snapshot{Docs: []docstore.Document{{ID: docID}}})
	}
	close(release)
	assert.Equal(t, "fourth", <-seen, "undelivered snapshots are replaced by newer ones")
}

func TestFanout_CloseStopsEverything(t *testing.T) {
	f := docstore.NewFanout(nil)
	sink := &storetest.SnapshotSink{}
	id, unsub := f.Add(docstore.Doc("boards/b1"), sink.OnSnapshot, sink.OnError)

	f.Close()
	assert.False(t, f.Push(id, docstore.Snapshot{}))
	unsub()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.Count())
}
