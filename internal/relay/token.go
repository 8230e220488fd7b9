package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/schoolyard/meetmesh/internal/domain"
)

var ErrBadToken = errors.New("bad token")

// MintToken issues an HS256 room token whose subject is the durable
// user id.
func MintToken(secret string, room domain.RoomID, user domain.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"room": string(room),
		"sub":  string(user),
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyToken checks signature, expiry and room binding, and returns the
// durable user id the token asserts.
func VerifyToken(secret, token string, room domain.RoomID) (domain.UserID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrBadToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrBadToken
	}
	if r, _ := claims["room"].(string); r != string(room) {
		return "", ErrBadToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrBadToken
	}
	return domain.UserID(sub), nil
}
