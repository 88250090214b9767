package models

import "github.com/google/uuid"

// TokenPayload is authenticated principal extracted from bearer token
type TokenPayload struct {
	UserID uuid.UUID
	Email  string
}
