package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/cache"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"
	"github.com/haierkeys/fast-board-sync/internal/metrics"
	"github.com/haierkeys/fast-board-sync/pkg/logger"
	"github.com/haierkeys/fast-board-sync/pkg/observable"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const autoSelectTimeout = 30 * time.Second

var validate = validator.New()

// BoardListener is told synchronously when a board becomes active or is torn down
// BoardListener 在看板激活或卸载时被同步通知
type BoardListener interface {
	BoardActivated(ctx context.Context, boardID string) error
	BoardDeactivated(ctx context.Context, boardID string)
}

// BoardService subscription manager of the signed-in user's boards
// BoardService 当前用户看板的订阅管理器
//
// State machine: idle -> loading -> active, active -> loading on board switch,
// loading -> failed when the board cannot be ensured or subscribed, and any
// state -> idle when the identity goes away. Identity transitions are handled
// in order on one goroutine; LoadBoard and teardown are serialized by lifeMu.
type BoardService struct {
	store   docstore.Store
	ident   identity.Provider
	cache   *cache.Cache
	writer  *WriteCoalescer
	metrics *metrics.Collector
	config  SyncConfig
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	sf singleflight.Group

	lifeMu sync.Mutex

	mu        sync.Mutex
	user      *domain.Identity
	boardID   string
	boardSubs []docstore.Unsubscribe
	listSub   docstore.Unsubscribe
	listeners []BoardListener
	selecting bool
	closed    bool

	// epoch tags board subscriptions, userGen tags the board list subscription
	epoch   atomic.Uint64
	userGen atomic.Uint64
	state   *observable.Value[domain.BoardState]

	// linkMu guards duplicate detection; pendingLinks holds links whose Put has not returned
	linkMu       sync.Mutex
	pendingLinks map[string]domain.Link

	idMu    sync.Mutex
	idQueue []*domain.Identity
	idWake  chan struct{}
	stopID  func()
	ctx     context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
}

// NewBoardService creates the subscription manager; call Start to follow the identity
// NewBoardService 创建订阅管理器，调用 Start 后开始跟随身份变化
func NewBoardService(store docstore.Store, ident identity.Provider, c *cache.Cache, writer *WriteCoalescer, cfg *SyncConfig, m *metrics.Collector, log *zap.Logger) *BoardService {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BoardService{
		store:        store,
		ident:        ident,
		cache:        c,
		writer:       writer,
		metrics:      m,
		config:       cfg.withDefaults(),
		logger:       log,
		now:          time.Now,
		newID:        uuid.NewString,
		state:        observable.NewValue(domain.BoardIdle),
		pendingLinks: make(map[string]domain.Link),
		idWake:       make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// AddListener registers l for board activation and teardown
func (s *BoardService) AddListener(l BoardListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *BoardService) listenerList() []BoardListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BoardListener(nil), s.listeners...)
}

// Start follows identity transitions of the provider
// Start 开始跟随身份提供者的身份变化
func (s *BoardService) Start() {
	s.stopID = s.ident.Subscribe(s.enqueueIdentity)
	if id := s.ident.Current(); id != nil {
		s.enqueueIdentity(id)
	}
	s.loopWG.Add(1)
	go s.identityLoop()
}

// Close tears everything down; the cache keeps its last contents
// Close 卸载所有订阅
func (s *BoardService) Close(ctx context.Context) {
	if s.stopID != nil {
		s.stopID()
	}
	s.cancel()
	s.loopWG.Wait()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.mu.Lock()
	s.closed = true
	listSub := s.listSub
	s.listSub = nil
	s.mu.Unlock()

	s.userGen.Add(1)
	s.teardownBoardLocked(ctx)
	if listSub != nil {
		listSub()
	}
}

func (s *BoardService) enqueueIdentity(id *domain.Identity) {
	var cp *domain.Identity
	if id != nil {
		v := *id
		cp = &v
	}
	s.idMu.Lock()
	s.idQueue = append(s.idQueue, cp)
	s.idMu.Unlock()
	select {
	case s.idWake <- struct{}{}:
	default:
	}
}

func (s *BoardService) identityLoop() {
	defer s.loopWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.idWake:
		}
		for {
			s.idMu.Lock()
			if len(s.idQueue) == 0 {
				s.idMu.Unlock()
				break
			}
			id := s.idQueue[0]
			s.idQueue = s.idQueue[1:]
			s.idMu.Unlock()
			s.handleIdentity(s.ctx, id)
		}
	}
}

func (s *BoardService) handleIdentity(ctx context.Context, id *domain.Identity) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	cur := s.user
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if id == nil {
		if cur != nil {
			s.signOutLocked(ctx)
		}
		return
	}
	if cur != nil && cur.UserID == id.UserID {
		s.mu.Lock()
		s.user = id
		s.mu.Unlock()
		return
	}
	if cur != nil {
		s.signOutLocked(ctx)
	}

	s.mu.Lock()
	s.user = id
	s.mu.Unlock()
	gen := s.userGen.Add(1)
	s.logger.Info("identity active", zap.String(logger.FieldUID, id.UserID))

	target := docstore.Collection(domain.BoardsCollection,
		docstore.Where("memberIds", docstore.OpArrayContains, id.UserID))
	unsub, err := s.store.Subscribe(target,
		func(snap docstore.Snapshot) { s.onBoards(gen, snap) },
		func(err error) { s.onListError(gen, err) })
	if err != nil {
		s.logger.Error("board list subscription failed",
			zap.String(logger.FieldUID, id.UserID),
			zap.Error(err))
		s.writer.SetStatus(domain.SyncError)
		s.setState(domain.BoardFailed)
		return
	}
	s.mu.Lock()
	s.listSub = unsub
	s.mu.Unlock()
}

// signOutLocked drops every subscription and all cached data
func (s *BoardService) signOutLocked(ctx context.Context) {
	s.userGen.Add(1)
	s.teardownBoardLocked(ctx)

	s.mu.Lock()
	listSub := s.listSub
	s.listSub = nil
	uid := ""
	if s.user != nil {
		uid = s.user.UserID
	}
	s.user = nil
	s.mu.Unlock()

	if listSub != nil {
		listSub()
	}
	s.writer.CancelAll()
	s.cache.Reset()
	s.writer.SetStatus(domain.SyncOffline)
	s.setState(domain.BoardIdle)
	s.logger.Info("identity lost, sync stopped", zap.String(logger.FieldUID, uid))
}

func (s *BoardService) onBoards(gen uint64, snap docstore.Snapshot) {
	if s.userGen.Load() != gen {
		s.metrics.ObserveDroppedSnapshot()
		return
	}
	boards := make(map[string]domain.BoardMetadata, len(snap.Docs))
	for _, d := range snap.Docs {
		var b domain.BoardMetadata
		if err := d.Decode(&b); err != nil {
			s.logger.Warn("skip undecodable board", zap.String(logger.FieldPath, d.Path), zap.Error(err))
			continue
		}
		b.ID = d.ID
		boards[d.ID] = b
	}
	s.cache.Boards.Replace(boards)
	s.metrics.ObserveSnapshot(domain.BoardsCollection)

	s.mu.Lock()
	need := s.boardID == "" && !s.selecting && !s.closed && s.user != nil
	if need {
		s.selecting = true
	}
	s.mu.Unlock()
	if need {
		go s.autoSelect(gen)
	}
}

func (s *BoardService) onListError(gen uint64, err error) {
	if s.userGen.Load() != gen {
		return
	}
	s.logger.Error("board list sync error", zap.Error(err))
	s.writer.SetStatus(domain.SyncError)
}

// autoSelect loads the first board of the user, or a new default board when there is none
// autoSelect 加载用户的第一个看板；没有看板时创建默认看板
// Boards are ordered by id, so "first" depends on generated ids and is not meaningful.
func (s *BoardService) autoSelect(gen uint64) {
	defer func() {
		s.mu.Lock()
		s.selecting = false
		s.mu.Unlock()
	}()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	skip := s.userGen.Load() != gen || s.closed || s.user == nil || s.boardID != ""
	s.mu.Unlock()
	if skip {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, autoSelectTimeout)
	defer cancel()

	var boardID string
	if boards := s.cache.Boards.Values(); len(boards) > 0 {
		boardID = boards[0].ID
	} else {
		boardID = s.newID()
		s.logger.Info("no boards yet, creating default board", zap.String(logger.FieldBoardID, boardID))
	}
	if err := s.loadLocked(ctx, boardID); err != nil {
		s.logger.Warn("auto select board failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
	}
}

// LoadBoard makes boardID the active board, tearing the previous one down first
// LoadBoard 将 boardID 设为活动看板，先完整卸载之前的看板
// A missing board is created with the caller as owner.
func (s *BoardService) LoadBoard(ctx context.Context, boardID string) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.loadLocked(ctx, boardID)
}

func (s *BoardService) loadLocked(ctx context.Context, boardID string) error {
	if boardID == "" {
		return domain.ErrBoardNotFound
	}
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return domain.ErrUnauthenticated
	}

	s.teardownBoardLocked(ctx)

	epoch := s.epoch.Add(1)
	s.mu.Lock()
	s.boardID = boardID
	s.mu.Unlock()
	s.setState(domain.BoardLoading)

	board, err := s.ensureBoard(ctx, boardID, *user)
	if err != nil {
		return s.failLocked(boardID, errors.Wrap(err, "ensure board"))
	}
	s.cache.Board.Set(board)

	targets := []struct {
		target     docstore.Target
		onSnapshot func(docstore.Snapshot)
		name       string
	}{
		{docstore.Doc(domain.BoardPath(boardID)), func(snap docstore.Snapshot) { s.onBoardDoc(epoch, snap) }, domain.BoardsCollection},
		{docstore.Collection(domain.CardsPath(boardID)), func(snap docstore.Snapshot) { s.onCards(epoch, snap) }, domain.CardsCollection},
		{docstore.Collection(domain.LinksPath(boardID)), func(snap docstore.Snapshot) { s.onLinks(epoch, snap) }, domain.LinksCollection},
	}
	subs := make([]docstore.Unsubscribe, 0, len(targets))
	for _, t := range targets {
		unsub, err := s.store.Subscribe(t.target, t.onSnapshot, s.onSubscriptionError(epoch, t.name))
		if err != nil {
			for _, u := range subs {
				u()
			}
			return s.failLocked(boardID, errors.Wrapf(err, "subscribe %s", t.name))
		}
		subs = append(subs, unsub)
	}

	s.mu.Lock()
	s.boardSubs = subs
	s.mu.Unlock()
	s.setState(domain.BoardActive)
	s.logger.Info("board loaded",
		zap.String(logger.FieldBoardID, boardID),
		zap.String(logger.FieldUID, user.UserID),
		zap.Uint64(logger.FieldEpoch, epoch))

	for _, l := range s.listenerList() {
		if err := l.BoardActivated(ctx, boardID); err != nil {
			s.logger.Warn("board listener failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
		}
	}
	return nil
}

func (s *BoardService) failLocked(boardID string, err error) error {
	s.epoch.Add(1)
	s.mu.Lock()
	s.boardID = ""
	s.mu.Unlock()
	s.cache.ClearBoard()
	s.writer.SetStatus(domain.SyncError)
	s.setState(domain.BoardFailed)
	s.logger.Error("board load failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
	return err
}

// ensureBoard reads the board, creating a default one owned by user when missing
// ensureBoard 读取看板，不存在时以 user 为所有者创建默认看板
func (s *BoardService) ensureBoard(ctx context.Context, boardID string, user domain.Identity) (*domain.BoardMetadata, error) {
	v, err, _ := s.sf.Do(boardID, func() (any, error) {
		path := domain.BoardPath(boardID)
		doc, err := s.store.Get(ctx, path)
		if err == nil {
			var b domain.BoardMetadata
			if err := doc.Decode(&b); err != nil {
				return nil, err
			}
			b.ID = doc.ID
			return &b, nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}

		b := domain.NewDefaultBoard(boardID, user, "", s.now().UTC())
		data, err := docstore.Encode(b)
		if err != nil {
			return nil, err
		}
		s.writer.Begin()
		if err := s.writer.End(domain.BoardsCollection, s.store.Put(ctx, path, data)); err != nil {
			return nil, err
		}
		s.logger.Info("board created",
			zap.String(logger.FieldBoardID, boardID),
			zap.String(logger.FieldUID, user.UserID))
		return &b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.BoardMetadata), nil
}

// teardownBoardLocked stops presence, unsubscribes, drops pending writes and clears the board cache
// teardownBoardLocked 停止在线状态、取消订阅、丢弃待写入并清空看板缓存
func (s *BoardService) teardownBoardLocked(ctx context.Context) {
	s.mu.Lock()
	boardID := s.boardID
	subs := s.boardSubs
	s.boardID = ""
	s.boardSubs = nil
	s.mu.Unlock()
	if boardID == "" && len(subs) == 0 {
		return
	}

	s.epoch.Add(1)
	for _, l := range s.listenerList() {
		l.BoardDeactivated(ctx, boardID)
	}
	for _, unsub := range subs {
		unsub()
	}
	s.writer.CancelBoard(boardID)
	s.cache.ClearBoard()

	s.linkMu.Lock()
	clear(s.pendingLinks)
	s.linkMu.Unlock()

	s.logger.Info("board unloaded", zap.String(logger.FieldBoardID, boardID))
}

func (s *BoardService) current(epoch uint64) bool {
	if s.epoch.Load() == epoch {
		return true
	}
	s.metrics.ObserveDroppedSnapshot()
	return false
}

func (s *BoardService) onBoardDoc(epoch uint64, snap docstore.Snapshot) {
	if !s.current(epoch) {
		return
	}
	d, ok := snap.Doc()
	if !ok {
		s.logger.Warn("active board document is gone", zap.String(logger.FieldPath, snap.Target.Path))
		return
	}
	var b domain.BoardMetadata
	if err := d.Decode(&b); err != nil {
		s.logger.Warn("skip undecodable board", zap.String(logger.FieldPath, d.Path), zap.Error(err))
		return
	}
	b.ID = d.ID
	s.cache.Board.Set(&b)
	s.metrics.ObserveSnapshot(domain.BoardsCollection)
}

func (s *BoardService) onCards(epoch uint64, snap docstore.Snapshot) {
	if !s.current(epoch) {
		return
	}
	cards := make(map[string]domain.Card, len(snap.Docs))
	for _, d := range snap.Docs {
		var c domain.Card
		if err := d.Decode(&c); err != nil {
			s.logger.Warn("skip undecodable card", zap.String(logger.FieldPath, d.Path), zap.Error(err))
			continue
		}
		c.ID = d.ID
		cards[d.ID] = c
	}
	s.cache.Cards.Replace(cards)
	s.metrics.ObserveSnapshot(domain.CardsCollection)
	s.writer.MarkSynced()
}

func (s *BoardService) onLinks(epoch uint64, snap docstore.Snapshot) {
	if !s.current(epoch) {
		return
	}
	links := make(map[string]domain.Link, len(snap.Docs))
	for _, d := range snap.Docs {
		var l domain.Link
		if err := d.Decode(&l); err != nil {
			s.logger.Warn("skip undecodable link", zap.String(logger.FieldPath, d.Path), zap.Error(err))
			continue
		}
		l.ID = d.ID
		links[d.ID] = l
	}

	s.linkMu.Lock()
	s.cache.Links.Replace(links)
	s.linkMu.Unlock()
	s.metrics.ObserveSnapshot(domain.LinksCollection)
}

func (s *BoardService) onSubscriptionError(epoch uint64, name string) func(error) {
	return func(err error) {
		if s.epoch.Load() != epoch {
			return
		}
		s.logger.Error("board sync error", zap.String(logger.FieldCollection, name), zap.Error(err))
		s.writer.SetStatus(domain.SyncError)
	}
}

func (s *BoardService) setState(st domain.BoardState) {
	if s.state.Get() == st {
		return
	}
	s.state.Set(st)
	s.logger.Debug("board state", zap.String(logger.FieldState, string(st)))
}

// State current lifecycle state
func (s *BoardService) State() domain.BoardState {
	return s.state.Get()
}

// OnStateChange observes lifecycle transitions
func (s *BoardService) OnStateChange(fn func(domain.BoardState)) func() {
	return s.state.Subscribe(fn)
}

// Identity the identity the service is following, nil when signed out
func (s *BoardService) Identity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// ActiveBoardID id of the active or loading board
func (s *BoardService) ActiveBoardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardID
}

// Cache the local view
func (s *BoardService) Cache() *cache.Cache {
	return s.cache
}

// active returns the identity and board gesture operations act on
func (s *BoardService) active() (domain.Identity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.Identity{}, "", domain.ErrUnauthenticated
	}
	if s.boardID == "" || s.state.Get() != domain.BoardActive {
		return domain.Identity{}, "", domain.ErrNoActiveBoard
	}
	return *s.user, s.boardID, nil
}

// AddCard creates a default card at pos and returns its id
// AddCard 在 pos 处创建默认卡片并返回其 ID
// The card shows up locally with the next cards snapshot.
func (s *BoardService) AddCard(ctx context.Context, pos domain.Position) (string, error) {
	user, boardID, err := s.active()
	if err != nil {
		return "", err
	}
	card := domain.NewDefaultCard(s.newID(), boardID, user.UserID, pos, s.now().UTC())
	if err := validate.Struct(card); err != nil {
		return "", errors.Wrap(err, "invalid card")
	}
	data, err := docstore.Encode(card)
	if err != nil {
		return "", err
	}

	s.writer.Begin()
	err = s.writer.End(domain.CardsPath(boardID), s.store.Put(ctx, domain.CardPath(boardID, card.ID), data))
	if err != nil {
		s.logger.Error("add card failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
		return "", errors.Wrap(err, "add card")
	}
	return card.ID, nil
}

// UpdateCard applies patch locally and schedules the coalesced remote write
// UpdateCard 本地应用补丁并调度合并后的远程写入
// Pure position drags use the drag delay, everything else the edit delay.
func (s *BoardService) UpdateCard(cardID string, patch domain.CardPatch) error {
	user, boardID, err := s.active()
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	if _, ok := s.cache.Cards.Get(cardID); !ok {
		return domain.ErrCardNotFound
	}

	s.cache.Cards.Mutate(func(m map[string]domain.Card) {
		if c, ok := m[cardID]; ok {
			m[cardID] = patch.Apply(c)
		}
	})
	delay := s.config.EditDelay
	if patch.OnlyPosition() {
		delay = s.config.DragDelay
	}
	return s.writer.ScheduleCard(boardID, cardID, user.UserID, delay, patch.Fields())
}

// MoveCard drag of a card to pos
func (s *BoardService) MoveCard(cardID string, pos domain.Position) error {
	return s.UpdateCard(cardID, domain.CardPatch{Position: &pos})
}

// ResizeCard resize of a card
func (s *BoardService) ResizeCard(cardID string, size domain.Size) error {
	return s.UpdateCard(cardID, domain.CardPatch{Size: &size})
}

// DeleteCard cancels the card's pending write and deletes it with every link touching it
// DeleteCard 取消卡片的待写入，并删除卡片及其所有关联连线
func (s *BoardService) DeleteCard(ctx context.Context, cardID string) error {
	_, boardID, err := s.active()
	if err != nil {
		return err
	}
	s.writer.Cancel(CardKey(boardID, cardID))
	s.cache.Cards.Delete(cardID)
	s.linkMu.Lock()
	for id, l := range s.pendingLinks {
		if l.Touches(cardID) {
			delete(s.pendingLinks, id)
		}
	}
	s.cache.Links.Filter(func(_ string, l domain.Link) bool { return !l.Touches(cardID) })
	s.linkMu.Unlock()

	s.writer.Begin()
	err = s.writer.End(domain.CardsPath(boardID), s.deleteCardRemote(ctx, boardID, cardID))
	if err != nil {
		s.logger.Error("delete card failed",
			zap.String(logger.FieldBoardID, boardID),
			zap.String(logger.FieldCardID, cardID),
			zap.Error(err))
	}
	return err
}

func (s *BoardService) deleteCardRemote(ctx context.Context, boardID, cardID string) error {
	linksPath := domain.LinksPath(boardID)
	var bySource, byTarget []docstore.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bySource, err = s.store.Query(gctx, docstore.Collection(linksPath, docstore.Where("sourceCardId", docstore.OpEqual, cardID)))
		return err
	})
	g.Go(func() error {
		var err error
		byTarget, err = s.store.Query(gctx, docstore.Collection(linksPath, docstore.Where("targetCardId", docstore.OpEqual, cardID)))
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "query card links")
	}

	paths := []string{domain.CardPath(boardID, cardID)}
	seen := make(map[string]struct{})
	for _, d := range append(bySource, byTarget...) {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		paths = append(paths, domain.LinkPath(boardID, d.ID))
	}
	return errors.Wrap(s.store.BatchDelete(ctx, paths), "delete card")
}

// AddLink connects two cards unless they are already connected in either direction
// AddLink 连接两张卡片；若已存在任意方向的连线则拒绝
// The link shows up locally at once and is replaced with the next links snapshot.
func (s *BoardService) AddLink(ctx context.Context, sourceCardID, targetCardID string) (string, error) {
	_, boardID, err := s.active()
	if err != nil {
		return "", err
	}
	if sourceCardID == "" || targetCardID == "" || sourceCardID == targetCardID {
		return "", domain.ErrInvalidLink
	}
	for _, id := range []string{sourceCardID, targetCardID} {
		if _, ok := s.cache.Cards.Get(id); !ok {
			return "", domain.ErrCardNotFound
		}
	}

	s.linkMu.Lock()
	if _, ok := s.cache.FindLink(sourceCardID, targetCardID); ok || s.pendingConnects(sourceCardID, targetCardID) {
		s.linkMu.Unlock()
		return "", domain.ErrLinkExists
	}
	link := domain.NewDefaultLink(s.newID(), boardID, sourceCardID, targetCardID)
	s.pendingLinks[link.ID] = link
	s.cache.Links.Put(link.ID, link)
	s.linkMu.Unlock()

	data, err := docstore.Encode(link)
	if err == nil {
		s.writer.Begin()
		err = s.writer.End(domain.LinksPath(boardID), s.store.Put(ctx, domain.LinkPath(boardID, link.ID), data))
	}
	s.linkMu.Lock()
	delete(s.pendingLinks, link.ID)
	if err != nil {
		s.cache.Links.Delete(link.ID)
	}
	s.linkMu.Unlock()
	if err != nil {
		s.logger.Error("add link failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
		return "", errors.Wrap(err, "add link")
	}
	return link.ID, nil
}

// pendingConnects caller holds linkMu
func (s *BoardService) pendingConnects(a, b string) bool {
	for _, l := range s.pendingLinks {
		if l.Connects(a, b) {
			return true
		}
	}
	return false
}

// UpdateLink changes a link's type or label
func (s *BoardService) UpdateLink(ctx context.Context, linkID string, patch domain.LinkPatch) error {
	_, boardID, err := s.active()
	if err != nil {
		return err
	}
	fields := patch.Fields()
	if len(fields) == 0 {
		return nil
	}
	s.linkMu.Lock()
	_, cached := s.cache.Links.Get(linkID)
	_, pending := s.pendingLinks[linkID]
	s.linkMu.Unlock()
	if !cached && !pending {
		return domain.ErrLinkNotFound
	}
	s.cache.Links.Mutate(func(m map[string]domain.Link) {
		if l, ok := m[linkID]; ok {
			m[linkID] = patch.Apply(l)
		}
	})

	s.writer.Begin()
	err = s.writer.End(domain.LinksPath(boardID), s.store.Put(ctx, domain.LinkPath(boardID, linkID), fields, docstore.Merge()))
	if err != nil {
		s.logger.Error("update link failed", zap.String(logger.FieldLinkID, linkID), zap.Error(err))
	}
	return err
}

// DeleteLink removes a link
func (s *BoardService) DeleteLink(ctx context.Context, linkID string) error {
	_, boardID, err := s.active()
	if err != nil {
		return err
	}
	s.linkMu.Lock()
	delete(s.pendingLinks, linkID)
	s.cache.Links.Delete(linkID)
	s.linkMu.Unlock()

	s.writer.Begin()
	err = s.writer.End(domain.LinksPath(boardID), s.store.Delete(ctx, domain.LinkPath(boardID, linkID)))
	if err != nil {
		s.logger.Error("delete link failed", zap.String(logger.FieldLinkID, linkID), zap.Error(err))
	}
	return err
}
