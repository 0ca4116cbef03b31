// Package auth verifies bearer tokens issued by the hosted identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"resumeforge/internal/config"
	"resumeforge/internal/errcode"
)

// Claims 是令牌中业务关心的字段；sub 即用户 ID。
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier validates RS256/ES256 tokens against a key source.
type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	issuer  string
}

// New picks the JWKS endpoint when configured, else the static public key.
func New(ctx context.Context, cfg config.AuthConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.JWKSURL) != "" {
		return NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.Issuer)
	}
	return NewStaticVerifier([]byte(cfg.PublicKeyPEM), cfg.Issuer)
}

// NewJWKSVerifier fetches signing keys from jwksURL; keys are cached and refreshed in the background.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*JWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("jwks url is required")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create jwks client: %w", err)
	}
	return &JWTVerifier{keyfunc: jwks.Keyfunc, issuer: issuer}, nil
}

// NewStaticVerifier 解析 PEM 公钥。
func NewStaticVerifier(publicKeyPEM []byte, issuer string) (*JWTVerifier, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return &JWTVerifier{
		keyfunc: func(*jwt.Token) (any, error) { return publicKey, nil },
		issuer:  issuer,
	}, nil
}

// Verify 解析并验证 JWT，返回调用方身份。
func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, errcode.Auth("missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyfunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, errcode.Auth("token expired")
		}
		return Identity{}, errcode.Auth("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errcode.Auth("invalid token claims")
	}
	if claims.Subject == "" {
		return Identity{}, errcode.Auth("token missing subject")
	}
	// 匿名令牌不允许访问
	if claims.Role == "anon" {
		return Identity{}, errcode.Auth("anonymous tokens are not accepted")
	}

	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
