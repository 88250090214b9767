package service

import "github.com/skalov/mealmart/internal/models"

type TokenService interface {
	CreateToken(payload *models.TokenPayload) (string, error)
	VerifyToken(tokenString string) (*models.TokenPayload, error)
}
