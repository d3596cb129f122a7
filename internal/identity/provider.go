// Package identity authenticated user source and its token codec
// Package identity 已认证用户来源及令牌编解码
package identity

import (
	"context"

	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/pkg/observable"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Provider exposes the current identity and its transitions
// Provider 提供当前身份及其变更通知
type Provider interface {
	// Current returns the signed-in identity, nil when signed out
	Current() *domain.Identity
	// Subscribe observes every identity transition in order
	// Subscribe 按顺序观察每次身份变更
	Subscribe(fn func(*domain.Identity)) (unsubscribe func())
}

// TokenProvider Provider backed by signed tokens
// TokenProvider 基于签名令牌的身份提供者
type TokenProvider struct {
	tokens TokenManager
	logger *zap.Logger
	cur    *observable.Value[*domain.Identity]
	token  *observable.Value[string]
}

// NewTokenProvider creates a signed-out provider
func NewTokenProvider(tokens TokenManager, logger *zap.Logger) *TokenProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenProvider{
		tokens: tokens,
		logger: logger,
		cur:    observable.NewValue[*domain.Identity](nil),
		token:  observable.NewValue(""),
	}
}

// Current returns the signed-in identity
func (p *TokenProvider) Current() *domain.Identity {
	return p.cur.Get()
}

// Token the raw token of the current identity
func (p *TokenProvider) Token() string {
	return p.token.Get()
}

// Subscribe observes identity transitions
func (p *TokenProvider) Subscribe(fn func(*domain.Identity)) func() {
	return p.cur.Subscribe(fn)
}

// SignIn verifies token and makes its identity current
// SignIn 校验令牌并将其身份设为当前身份
func (p *TokenProvider) SignIn(_ context.Context, token string) (*domain.Identity, error) {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		p.logger.Warn("sign in rejected", zap.Error(err))
		return nil, errors.Wrap(domain.ErrUnauthenticated, err.Error())
	}
	id := claims.Identity()
	p.token.Set(token)
	p.cur.Set(&id)
	p.logger.Info("signed in", zap.String("uid", id.UserID))
	return &id, nil
}

// SignOut clears the current identity
func (p *TokenProvider) SignOut() {
	if p.cur.Get() == nil {
		return
	}
	p.token.Set("")
	p.cur.Set(nil)
	p.logger.Info("signed out")
}

// StaticProvider Provider whose identity is set directly, for embedded use and tests
// StaticProvider 直接设置身份的 Provider，用于嵌入场景和测试
type StaticProvider struct {
	cur *observable.Value[*domain.Identity]
}

// NewStaticProvider creates a provider holding id (nil for signed out)
func NewStaticProvider(id *domain.Identity) *StaticProvider {
	return &StaticProvider{cur: observable.NewValue(id)}
}

// Current returns the identity
func (p *StaticProvider) Current() *domain.Identity {
	return p.cur.Get()
}

// Subscribe observes identity transitions
func (p *StaticProvider) Subscribe(fn func(*domain.Identity)) func() {
	return p.cur.Subscribe(fn)
}

// Set replaces the identity
func (p *StaticProvider) Set(id *domain.Identity) {
	p.cur.Set(id)
}
