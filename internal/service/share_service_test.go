package service

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[min(i, len(codes)-1)]
		i++
		return c, nil
	}
}

// sharedBoard has u1 share its board and u2 join it
func sharedBoard(t *testing.T) (h1, h2 *harness, boardID string) {
	t.Helper()
	store := newRecordingStore()
	h1 = newHarness(t, store, "u1")
	h2 = newHarness(t, store, "u2")

	boardID = h1.signInActive(t)
	h1.share.generate = fixedCodes("AB12CD34")
	code, err := h1.share.GenerateShareLink(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AB12CD34", code)

	h2.signInActive(t)
	joined, err := h2.share.JoinBoardByCode(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, boardID, joined)
	return h1, h2, boardID
}

func TestShare_GenerateShareLink(t *testing.T) {
	h := newHarness(t, newRecordingStore(), "u1")
	_, err := h.share.GenerateShareLink(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	boardID := h.signInActive(t)
	code, err := h.share.GenerateShareLink(context.Background())
	require.NoError(t, err)
	assert.True(t, util.IsShareCode(code), "generated codes use the share alphabet: %q", code)
	assert.Equal(t, code, storedBoard(t, h.store, boardID).ShareCode)
	assert.Equal(t, domain.SyncSynced, h.writer.Status())

	next, err := h.share.GenerateShareLink(context.Background())
	require.NoError(t, err)
	assert.Equal(t, next, storedBoard(t, h.store, boardID).ShareCode, "a new code replaces the old one")
}

func TestShare_GenerateSkipsCodesInUse(t *testing.T) {
	h := newHarness(t, newRecordingStore(), "u1")
	boardID := h.signInActive(t)

	other := domain.NewDefaultBoard("other", domain.Identity{UserID: "u9"}, "", time.Now())
	other.ShareCode = "TAKEN234"
	data, err := docstore.Encode(other)
	require.NoError(t, err)
	require.NoError(t, h.store.Put(context.Background(), domain.BoardPath("other"), data))

	h.share.generate = fixedCodes("TAKEN234", "FREE5678")
	code, err := h.share.GenerateShareLink(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FREE5678", code)
	assert.Equal(t, "FREE5678", storedBoard(t, h.store, boardID).ShareCode)

	h.share.generate = fixedCodes("TAKEN234")
	_, err = h.share.GenerateShareLink(context.Background())
	assert.ErrorIs(t, err, errShareCodeExhausted)
}

func TestShare_ShareURL(t *testing.T) {
	h := newHarness(t, newRecordingStore(), "u1")
	assert.Equal(t, "https://boards.example.com/?join=AB12CD34", h.share.ShareURL("AB12CD34"))
}

func TestShare_JoinUnknownCode(t *testing.T) {
	h := newHarness(t, newRecordingStore(), "u1")
	_, err := h.share.JoinBoardByCode(context.Background(), "AB12CD34")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	boardID := h.signInActive(t)
	for _, code := range []string{"ZZZZZZZZ", "", "   "} {
		id, err := h.share.JoinBoardByCode(context.Background(), code)
		assert.ErrorIs(t, err, domain.ErrJoinFailed, code)
		assert.Empty(t, id)
	}
	assert.Equal(t, boardID, h.boards.ActiveBoardID(), "a failed join keeps the current board")
}

func TestShare_JoinAddsEditorAndLoadsBoard(t *testing.T) {
	_, h2, boardID := sharedBoard(t)

	b := storedBoard(t, h2.store, boardID)
	assert.Equal(t, domain.RoleEditor, b.Members["u2"].Role)
	assert.Equal(t, "User u2", b.Members["u2"].DisplayName)
	assert.ElementsMatch(t, []string{"u1", "u2"}, b.MemberIDs)
	assert.Equal(t, "u1", b.OwnerID)

	assert.Equal(t, boardID, h2.boards.ActiveBoardID())
	assert.Equal(t, domain.BoardActive, h2.boards.State())
	assert.Equal(t, boardID, h2.presence.TrackedBoard())
}

func TestShare_JoinTwiceKeepsSingleMembership(t *testing.T) {
	_, h2, boardID := sharedBoard(t)

	id, err := h2.share.JoinBoardByCode(context.Background(), " ab12cd34 ")
	require.NoError(t, err)
	assert.Equal(t, boardID, id)

	b := storedBoard(t, h2.store, boardID)
	assert.Len(t, b.Members, 2)
	assert.Len(t, b.MemberIDs, 2)
}

func TestShare_JoinedBoardAppearsInBoardList(t *testing.T) {
	_, h2, boardID := sharedBoard(t)
	require.Eventually(t, func() bool {
		_, ok := h2.cache.Boards.Get(boardID)
		return ok
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, h2.cache.Boards.Len(), "own default board plus the joined one")
}

func TestShare_RemoveMember(t *testing.T) {
	h1, h2, boardID := sharedBoard(t)
	ctx := context.Background()

	assert.ErrorIs(t, h1.share.RemoveMember(ctx, "u1"), domain.ErrOwnerImmutable)
	assert.ErrorIs(t, h2.share.RemoveMember(ctx, "u1"), domain.ErrOwnerImmutable)
	assert.ErrorIs(t, h2.share.RemoveMember(ctx, "u2"), domain.ErrForbidden)
	assert.NoError(t, h1.share.RemoveMember(ctx, "ghost"))

	b := storedBoard(t, h1.store, boardID)
	assert.Len(t, b.Members, 2, "refused removals change nothing")

	require.NoError(t, h1.share.RemoveMember(ctx, "u2"))
	b = storedBoard(t, h1.store, boardID)
	assert.Equal(t, []string{"u1"}, b.MemberIDs)
	assert.False(t, b.IsMember("u2"))
	assert.True(t, b.IsMember("u1"))
}

func TestShare_UpdateMemberRole(t *testing.T) {
	h1, h2, boardID := sharedBoard(t)
	ctx := context.Background()

	assert.ErrorIs(t, h1.share.UpdateMemberRole(ctx, "u2", domain.RoleOwner), domain.ErrInvalidRole)
	assert.ErrorIs(t, h1.share.UpdateMemberRole(ctx, "u2", "admin"), domain.ErrInvalidRole)
	assert.ErrorIs(t, h1.share.UpdateMemberRole(ctx, "u1", domain.RoleViewer), domain.ErrOwnerImmutable)
	assert.ErrorIs(t, h1.share.UpdateMemberRole(ctx, "ghost", domain.RoleViewer), domain.ErrMemberNotFound)
	assert.ErrorIs(t, h2.share.UpdateMemberRole(ctx, "u2", domain.RoleViewer), domain.ErrForbidden)

	require.NoError(t, h1.share.UpdateMemberRole(ctx, "u2", domain.RoleViewer))
	b := storedBoard(t, h1.store, boardID)
	assert.Equal(t, domain.RoleViewer, b.Members["u2"].Role)
	assert.Equal(t, "User u2", b.Members["u2"].DisplayName, "only the role changes")
}

func TestShare_UpdateBoardName(t *testing.T) {
	h1, h2, boardID := sharedBoard(t)
	ctx := context.Background()

	assert.ErrorIs(t, h1.share.UpdateBoardName(ctx, "  "), domain.ErrInvalidBoardName)

	require.NoError(t, h2.share.UpdateBoardName(ctx, "Editors may rename"))
	assert.Equal(t, "Editors may rename", storedBoard(t, h1.store, boardID).Name)

	require.NoError(t, h1.share.UpdateBoardName(ctx, "  Case 42 "))
	assert.Equal(t, "Case 42", storedBoard(t, h1.store, boardID).Name)
	require.Eventually(t, func() bool {
		b := h2.cache.Board.Get()
		return b != nil && b.Name == "Case 42"
	}, waitFor, 5*time.Millisecond, "the rename reaches the other client")

	require.NoError(t, h1.share.UpdateMemberRole(ctx, "u2", domain.RoleViewer))
	assert.ErrorIs(t, h2.share.UpdateBoardName(ctx, "nope"), domain.ErrForbidden)
}
