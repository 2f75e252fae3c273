package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/staffhub/staffhub/internal/database"
)

// ErrInvalidToken is returned for malformed, expired or forged bearer tokens
var ErrInvalidToken = errors.New("invalid token")

// Claims carried by a bearer token
type Claims struct {
	jwt.RegisteredClaims
	UserID int64         `json:"uid"`
	Role   database.Role `json:"role"`
}

// TokenIssuer signs and validates HS256 bearer tokens
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue signs a token for the user and returns it with its expiry
func (t *TokenIssuer) Issue(user *database.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Role:   user.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticator resolves bearer tokens to active users
type Authenticator struct {
	db     *database.DB
	tokens *TokenIssuer
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(db *database.DB, tokens *TokenIssuer) *Authenticator {
	return &Authenticator{db: db, tokens: tokens}
}

// Authenticate validates the token and loads its user. Deactivated or deleted
// accounts are rejected even while their token is unexpired; the role always
// comes from the database, not the token.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*database.User, error) {
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	user, err := a.db.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrInvalidToken
	}
	return user, nil
}
