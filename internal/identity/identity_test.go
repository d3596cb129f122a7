package identity

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_GenerateAndParse(t *testing.T) {
	tm := NewTokenManager(TokenConfig{SecretKey: "secret", Expiry: time.Hour})

	token, err := tm.Generate(domain.Identity{UserID: "u1", DisplayName: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	claims, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "u1", DisplayName: "Ada", Email: "ada@example.com"}, claims.Identity())

	other := NewTokenManager(TokenConfig{SecretKey: "other"})
	_, err = other.Parse(token)
	assert.Error(t, err)

	_, err = tm.Parse(token + "tampered")
	assert.Error(t, err)

	_, err = tm.Generate(domain.Identity{})
	assert.Error(t, err)
}

func TestTokenManager_Expired(t *testing.T) {
	tm := NewTokenManager(TokenConfig{SecretKey: "secret", Expiry: time.Nanosecond})
	token, err := tm.Generate(domain.Identity{UserID: "u1"})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = tm.Parse(token)
	assert.Error(t, err)
}

func TestTokenProvider_Transitions(t *testing.T) {
	tm := NewTokenManager(TokenConfig{SecretKey: "secret"})
	p := NewTokenProvider(tm, nil)

	var seen []string
	unsub := p.Subscribe(func(id *domain.Identity) {
		if id == nil {
			seen = append(seen, "out")
			return
		}
		seen = append(seen, id.UserID)
	})
	defer unsub()

	_, err := p.SignIn(context.Background(), "garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Nil(t, p.Current())

	token, err := tm.Generate(domain.Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	id, err := p.SignIn(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, token, p.Token())

	p.SignOut()
	p.SignOut()
	assert.Equal(t, []string{"u1", "out"}, seen)
	assert.Empty(t, p.Token())
}
