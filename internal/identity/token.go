package identity

import (
	"fmt"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// DefaultTokenIssuer 默认 Token 签发者
const DefaultTokenIssuer = "fast-board-sync"

// TokenConfig 定义 Token 管理器的配置
// TokenConfig token manager configuration
type TokenConfig struct {
	SecretKey string        // JWT 签名密钥
	Expiry    time.Duration // Token 过期时间，默认 7 天
	Issuer    string        // Token 签发者
}

// Claims identity carried by a signed token
// Claims 签名令牌携带的身份信息
type Claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims into a domain identity
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		AvatarURL:   c.AvatarURL,
	}
}

// TokenManager 定义 Token 管理接口
// TokenManager issues and verifies identity tokens
type TokenManager interface {
	Generate(id domain.Identity) (string, error)
	Parse(token string) (*Claims, error)
}

type tokenManager struct {
	config TokenConfig
}

// NewTokenManager 创建一个新的 TokenManager 实例
func NewTokenManager(cfg TokenConfig) TokenManager {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	return &tokenManager{config: cfg}
}

// Generate 生成一个新的 JWT Token
func (t *tokenManager) Generate(id domain.Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	claims := &Claims{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		AvatarURL:   id.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.config.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    t.config.Issuer,
			Subject:   id.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(t.config.SecretKey))
}

// Parse 解析 JWT Token 并返回身份信息
func (t *tokenManager) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(t.config.SecretKey), nil
	}, jwt.WithIssuer(t.config.Issuer))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
