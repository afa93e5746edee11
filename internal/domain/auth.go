package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Права в токене консоли
const (
	ScopeAdmin     = "admin"          // Видит сессии и аналитику любого пользователя
	ScopeSessions  = "sessions.write" // Запуск и отмена прогонов
	ScopeAgentsOps = "agents.ops"     // Ручной прогон health-check
)

// CustomClaims - claims токена консоли. UserID - владелец сессий.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

func (c *CustomClaims) Has(scope string) bool {
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// User - оператор консоли (не путать с UserProfile соискателя)
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем наружу
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
}
