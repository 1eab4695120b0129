package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sokochat/internal/domain/chat"
)

// Claims is the access-token payload. The backend encodes user_id as a
// string, so we keep it a string here and convert at the edges.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 access tokens. Used by the stub server;
// the real backend owns this in production.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
}

// Issue creates a signed access token for a user.
func (t Tokens) Issue(userID chat.UserID) (string, error) {
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := &Claims{
		UserID: strconv.FormatInt(int64(userID), 10),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.Secret)
}

// Validate parses and verifies an access token.
func (t Tokens) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ViewerID extracts the user id from an access token without verifying the
// signature. The client is not the token's audience verifier; it only needs
// its own identity for typing suppression and status marks.
func ViewerID(tokenString string) (chat.UserID, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return 0, fmt.Errorf("auth: cannot parse access token: %w", err)
	}
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("auth: token user_id %q is not numeric: %w", claims.UserID, err)
	}
	return chat.UserID(id), nil
}
