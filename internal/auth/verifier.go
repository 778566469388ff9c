package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken means the request carried no credential at all.
var ErrNoToken = errors.New("no token provided")

// ErrInvalidToken covers malformed, expired and badly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates a raw credential and returns the subject user id.
type TokenVerifier interface {
	Verify(token string) (int, error)
}

type claims struct {
	UserID int `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens in-process.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and extracts the user id.
func (v *JWTVerifier) Verify(tokenString string) (int, error) {
	if tokenString == "" {
		return 0, ErrNoToken
	}

	parsed := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	if parsed.UserID == 0 {
		return 0, ErrInvalidToken
	}
	return parsed.UserID, nil
}
