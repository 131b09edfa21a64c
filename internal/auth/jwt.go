// Package auth issues and verifies session tokens. Sign-in itself happens
// at the OAuth provider; the service only trusts the uid it is handed.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and validates session tokens.
type JWTManager struct {
	secretKey string
	duration  time.Duration
}

// Claims is the token payload.
type Claims struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{secretKey: secretKey, duration: duration}
}

// GenerateToken issues a signed token for uid.
func (m *JWTManager) GenerateToken(uid, name string) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, errors.New("uid is required")
	}
	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UID:  uid,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.secretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
