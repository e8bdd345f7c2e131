package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4/middleware"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
}

func (c *Claims) principal() (Principal, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("subject is not a user id: %w", err)
	}
	role, err := ParseRole(c.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: id, Username: c.Username, Role: role}, nil
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	Access    string    `json:"access"`
	Refresh   string    `json:"refresh"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(key []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

func (t *TokenIssuer) Issue(p Principal) (*TokenPair, error) {
	now := t.now()
	access, err := t.sign(p, tokenAccess, now, t.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(p, tokenRefresh, now, t.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh, ExpiresAt: now.Add(t.accessTTL)}, nil
}

func (t *TokenIssuer) sign(p Principal, kind string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Username:  p.Username,
		Role:      string(p.Role),
		TokenType: kind,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return s, nil
}

// ParseRefresh validates a refresh token and returns the principal it was
// issued for.
func (t *TokenIssuer) ParseRefresh(tokenStr string) (Principal, error) {
	claims, err := parseToken(tokenStr, t.key, t.issuer, tokenRefresh)
	if err != nil {
		return Principal{}, err
	}
	return claims.principal()
}

// AccessConfig returns the middleware config that verifies this issuer's
// access tokens.
func (t *TokenIssuer) AccessConfig(skipper middleware.Skipper) JWTConfig {
	return JWTConfig{SigningKey: t.key, Issuer: t.issuer, Skipper: skipper}
}
