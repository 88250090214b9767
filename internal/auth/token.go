// Package auth issues and verifies bearer tokens for authenticated users.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/skalov/mealmart/internal/models"
)

const tokenTTL = 24 * time.Hour

var errInvalidToken = errors.New("invalid auth token")

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// AuthToken creates and verifies HMAC-signed JWT tokens
type AuthToken struct {
	key []byte
}

// NewAuthToken creates new AuthToken instance
func NewAuthToken(key []byte) *AuthToken {
	return &AuthToken{key: key}
}

// CreateToken issues token for the user
func (t *AuthToken) CreateToken(payload *models.TokenPayload) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Email: payload.Email,
	})

	return token.SignedString(t.key)
}

// VerifyToken parses and validates token, returning its payload
func (t *AuthToken) VerifyToken(tokenString string) (*models.TokenPayload, error) {
	var c claims

	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, errInvalidToken
	}

	return &models.TokenPayload{UserID: userID, Email: c.Email}, nil
}
