package service

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/cache"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"
	"github.com/haierkeys/fast-board-sync/internal/metrics"
	"github.com/haierkeys/fast-board-sync/pkg/writequeue"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errInjected = errors.New("injected write failure")

const waitFor = 3 * time.Second

func testConfig() *SyncConfig {
	return &SyncConfig{
		EditDelay:         40 * time.Millisecond,
		DragDelay:         20 * time.Millisecond,
		CursorDelay:       10 * time.Millisecond,
		CleanupInterval:   time.Hour,
		StaleTimeout:      60 * time.Second,
		ShareBaseURL:      "https://boards.example.com/",
		ShareCodeAttempts: 3,
	}
}

type recordedPut struct {
	path string
	doc  map[string]any
}

// capturedFeed callbacks of the latest subscription to one collection kind
type capturedFeed struct {
	onSnapshot func(docstore.Snapshot)
	onError    func(error)
}

// recordingStore records writes and subscriptions and can be told to fail writes
// or to withhold the remote pushes of a collection kind
type recordingStore struct {
	docstore.Store

	failWrites atomic.Bool

	mu    sync.Mutex
	puts  []recordedPut
	feeds map[string]capturedFeed
	held  map[string]bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		Store: docstore.NewMemoryStore(nil),
		feeds: make(map[string]capturedFeed),
		held:  make(map[string]bool),
	}
}

// hold withholds remote pushes to subscriptions of the collection kind (cards, links, presence)
func (r *recordingStore) hold(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[kind] = true
}

func (r *recordingStore) Subscribe(t docstore.Target, onSnapshot func(docstore.Snapshot), onError func(error)) (docstore.Unsubscribe, error) {
	k := kind(t.Path)
	r.mu.Lock()
	r.feeds[k] = capturedFeed{onSnapshot: onSnapshot, onError: onError}
	held := r.held[k]
	r.mu.Unlock()
	if held {
		return func() {}, nil
	}
	return r.Store.Subscribe(t, onSnapshot, onError)
}

// feed callbacks of the latest subscription to the collection kind
func (r *recordingStore) feed(t *testing.T, kind string) capturedFeed {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[kind]
	require.True(t, ok, "no subscription to %s", kind)
	return f
}

func (r *recordingStore) Put(ctx context.Context, path string, doc map[string]any, opts ...docstore.PutOption) error {
	if r.failWrites.Load() {
		return errInjected
	}
	r.mu.Lock()
	r.puts = append(r.puts, recordedPut{path: path, doc: maps.Clone(doc)})
	r.mu.Unlock()
	return r.Store.Put(ctx, path, doc, opts...)
}

func (r *recordingStore) Update(ctx context.Context, path string, updates ...docstore.FieldUpdate) error {
	if r.failWrites.Load() {
		return errInjected
	}
	return r.Store.Update(ctx, path, updates...)
}

func (r *recordingStore) putsTo(path string) []recordedPut {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedPut
	for _, p := range r.puts {
		if p.path == path {
			out = append(out, p)
		}
	}
	return out
}

// fakeClock real time shifted by an adjustable offset
type fakeClock struct {
	offset atomic.Int64
}

func (c *fakeClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *fakeClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

// harness one client of the sync core
type harness struct {
	store    *recordingStore
	metrics  *metrics.Collector
	provider *identity.StaticProvider
	user     domain.Identity
	clock    *fakeClock
	cache    *cache.Cache
	queue    *writequeue.Manager
	writer   *WriteCoalescer
	boards   *BoardService
	presence *PresenceService
	share    *ShareService
}

func newHarness(t *testing.T, store *recordingStore, uid string) *harness {
	t.Helper()
	return newHarnessWithConfig(t, store, uid, testConfig())
}

func newHarnessWithConfig(t *testing.T, store *recordingStore, uid string, cfg *SyncConfig) *harness {
	t.Helper()
	log := zap.NewNop()
	m := metrics.NewCollector()

	h := &harness{
		store:    store,
		metrics:  m,
		provider: identity.NewStaticProvider(nil),
		user:     domain.Identity{UserID: uid, DisplayName: "User " + uid, Email: uid + "@example.com"},
		clock:    &fakeClock{},
		cache:    cache.New(),
		queue:    writequeue.New(nil, nil, log),
	}
	h.writer = NewWriteCoalescer(h.queue, store, h.cache, cfg, m, log)
	h.boards = NewBoardService(store, h.provider, h.cache, h.writer, cfg, m, log)
	h.presence = NewPresenceService(store, h.provider, h.cache, h.writer, cfg, m, log)
	h.share = NewShareService(store, h.boards, h.writer, cfg, log)
	h.writer.now = h.clock.Now
	h.boards.now = h.clock.Now
	h.presence.now = h.clock.Now
	h.share.now = h.clock.Now
	h.boards.AddListener(h.presence)
	h.boards.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		h.boards.Close(ctx)
		_ = h.queue.Shutdown(ctx)
	})
	return h
}

func (h *harness) signIn() {
	u := h.user
	h.provider.Set(&u)
}

// signInActive signs in and waits for the automatically selected board
func (h *harness) signInActive(t *testing.T) string {
	t.Helper()
	h.signIn()
	h.waitActive(t)
	return h.boards.ActiveBoardID()
}

func (h *harness) waitActive(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.boards.State() == domain.BoardActive && h.boards.ActiveBoardID() != ""
	}, waitFor, 5*time.Millisecond, "board never became active")
}

// waitSettled waits until no entity write is pending or in flight
func (h *harness) waitSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.queue.Busy(isEntityKey) && h.writer.Status() != domain.SyncSyncing
	}, waitFor, 5*time.Millisecond, "writes never settled")
}

func (h *harness) addCard(t *testing.T, x, y float64) string {
	t.Helper()
	id, err := h.boards.AddCard(context.Background(), domain.Position{X: x, Y: y})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Eventually(t, func() bool {
		_, ok := h.cache.Cards.Get(id)
		return ok
	}, waitFor, 5*time.Millisecond, "card never reached the cache")
	return id
}

func storedBoard(t *testing.T, s docstore.Store, boardID string) domain.BoardMetadata {
	t.Helper()
	doc, err := s.Get(context.Background(), domain.BoardPath(boardID))
	require.NoError(t, err)
	var b domain.BoardMetadata
	require.NoError(t, doc.Decode(&b))
	return b
}

func storedCard(t *testing.T, s docstore.Store, boardID, cardID string) (domain.Card, bool) {
	t.Helper()
	doc, err := s.Get(context.Background(), domain.CardPath(boardID, cardID))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.Card{}, false
	}
	require.NoError(t, err)
	var c domain.Card
	require.NoError(t, doc.Decode(&c))
	c.ID = doc.ID
	return c, true
}

func ptr[T any](v T) *T {
	return &v
}
