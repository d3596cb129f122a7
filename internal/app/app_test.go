package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func testAppConfig() *AppConfig {
	cfg := DefaultConfig()
	cfg.Store.Type = StoreMemory
	cfg.Sync.EditDelay = "20ms"
	cfg.Sync.DragDelay = "10ms"
	return cfg
}

func TestNewApp_Authenticate(t *testing.T) {
	a, err := NewApp(testAppConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	token, err := a.Tokens.Generate(domain.Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	user, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Ada", user.Nickname)

	_, err = a.Authenticate("garbage")
	assert.Error(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = a.Store.Get(context.Background(), "boards/b1")
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func TestOpenStore(t *testing.T) {
	cfg := testAppConfig()
	cfg.Store.Type = StoreSqlite
	cfg.Store.Path = ":memory:"
	s, err := OpenStore(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.Store.Type = "mongo"
	_, err = OpenStore(cfg, nil)
	assert.Error(t, err)

	_, err = NewApp(nil, nil)
	assert.Error(t, err)
}

func newSignedInClient(t *testing.T, cfg *AppConfig, store docstore.Store, uid string) (*SyncClient, string) {
	t.Helper()
	ctx := context.Background()
	token, err := identity.NewTokenManager(cfg.GetTokenConfig()).Generate(domain.Identity{UserID: uid, DisplayName: strings.ToUpper(uid)})
	require.NoError(t, err)

	c := NewSyncClient(cfg, store, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Close(ctx)
	})
	require.NoError(t, c.SignIn(ctx, token))

	waitCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	boardID, err := c.WaitActive(waitCtx)
	require.NoError(t, err)
	return c, boardID
}

func TestSyncClient_ShareScenario(t *testing.T) {
	cfg := testAppConfig()
	store := docstore.NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	u1, b1 := newSignedInClient(t, cfg, store, "u1")
	code, err := u1.Share.GenerateShareLink(ctx)
	require.NoError(t, err)
	assert.Contains(t, u1.Share.ShareURL(code), "join="+code)

	u2, b2 := newSignedInClient(t, cfg, store, "u2")
	require.NotEqual(t, b1, b2, "every user starts with a default board of their own")

	joined, err := u2.Share.JoinBoardByCode(ctx, " "+strings.ToLower(code)+" ")
	require.NoError(t, err)
	assert.Equal(t, b1, joined)
	assert.Equal(t, b1, u2.Boards.ActiveBoardID())

	again, err := u2.Share.JoinBoardByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, b1, again)

	doc, err := store.Get(ctx, domain.BoardPath(b1))
	require.NoError(t, err)
	assert.Equal(t, []any{"u1", "u2"}, doc.Data["memberIds"])

	cardID, err := u1.Boards.AddCard(ctx, domain.Position{X: 10, Y: 10})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := u2.Cache.Cards.Get(cardID)
		return ok
	}, waitFor, 5*time.Millisecond, "u2 sees the card added by u1")

	require.Eventually(t, func() bool {
		return len(u1.Presence.OtherUsers()) == 1
	}, waitFor, 5*time.Millisecond, "u1 sees u2 online")

	require.NoError(t, u1.Share.RemoveMember(ctx, "u2"))
	assert.ErrorIs(t, u1.Share.RemoveMember(ctx, "u1"), domain.ErrOwnerImmutable)

	doc, err = store.Get(ctx, domain.BoardPath(b1))
	require.NoError(t, err)
	assert.Equal(t, []any{"u1"}, doc.Data["memberIds"])
	assert.NotContains(t, doc.Data["members"], "u2")

	_, err = u2.Share.JoinBoardByCode(ctx, "ZZZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrJoinFailed)
}
