package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	authmodel "github.com/zhouzirui/flowbot/backend/internal/model/auth"
)

// SessionTTL is how long a signed session cookie stays valid.
const SessionTTL = 24 * time.Hour

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

type sessionClaims struct {
	User authmodel.Identity `json:"user"`
	jwt.RegisteredClaims
}

// SessionCodec signs and verifies identity tokens with HS256.
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionCodec builds a codec with the default 24h lifetime.
func NewSessionCodec(secret []byte) *SessionCodec {
	return &SessionCodec{secret: secret, ttl: SessionTTL, now: time.Now}
}

// Issue returns a signed token for identity.
func (c *SessionCodec) Issue(identity authmodel.Identity) (string, error) {
	now := c.now()
	claims := sessionClaims{
		User: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify checks the signature and expiry and returns the embedded identity.
func (c *SessionCodec) Verify(tokenString string) (authmodel.Identity, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return authmodel.Identity{}, ErrExpiredSession
		}
		return authmodel.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	if !token.Valid || claims.User.Email == "" {
		return authmodel.Identity{}, ErrInvalidSession
	}
	return claims.User, nil
}
