package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/session"
)

// SessionManager - операции менеджера сессий, нужные консоли
type SessionManager interface {
	Start(ctx context.Context, req session.StartRequest) (string, error)
	GetStatus(id string) domain.AutomationSession
	GetHistory(userID string, limit int) []domain.AutomationSession
	ListActive(userID string) []domain.AutomationSession
	Cancel(ctx context.Context, id string) error
	OwnerOf(id string) string
	GetStepPerformanceMetrics(userID string) []domain.StepPerformance
	GetHandoffAnalytics(userID string) domain.HandoffAnalytics
}

// SessionService применяет права доступа поверх менеджера:
// обычный пользователь видит только свои сессии, admin — любые.
type SessionService struct {
	manager SessionManager
	logger  *zap.Logger

	// AutoSubmitDefault применяется, когда клиент не указал auto_submit
	AutoSubmitDefault bool
}

func NewSessionService(m SessionManager, logger *zap.Logger) *SessionService {
	return &SessionService{manager: m, logger: logger.Named("session-service")}
}

// SessionList - активные и завершенные сессии
type SessionList struct {
	Active  []domain.AutomationSession `json:"active"`
	History []domain.AutomationSession `json:"history"`
}

// Start запускает прогон от имени вызывающего. Чужой user_id разрешен только админу.
func (s *SessionService) Start(ctx context.Context, c *domain.CustomClaims, req session.StartRequest) (string, error) {
	if req.UserID == "" {
		req.UserID = c.UserID
	}
	if req.UserID != c.UserID && !c.Scopes[domain.ScopeAdmin] {
		return "", domain.NewError(domain.KindAuth, "console.start", "cannot start sessions for another user", nil)
	}
	id, err := s.manager.Start(ctx, req)
	if err != nil {
		return "", err
	}
	s.logger.Info("session started via console", zap.String("session_id", id), zap.String("actor", c.UserID))
	return id, nil
}

// Get - статус сессии. Чужая сессия для не-админа выглядит как несуществующая.
func (s *SessionService) Get(c *domain.CustomClaims, id string) domain.AutomationSession {
	if !s.visible(c, id) {
		return domain.AutomationSession{ID: id, Status: domain.SessionNotFound}
	}
	return s.manager.GetStatus(id)
}

func (s *SessionService) List(c *domain.CustomClaims, userID string, limit int) SessionList {
	scope := s.scopeFor(c, userID)
	return SessionList{
		Active:  s.manager.ListActive(scope),
		History: s.manager.GetHistory(scope, limit),
	}
}

func (s *SessionService) Cancel(ctx context.Context, c *domain.CustomClaims, id string) error {
	if !s.visible(c, id) {
		return domain.NewError(domain.KindNotFound, "console.cancel", "session not found", nil)
	}
	if err := s.manager.Cancel(ctx, id); err != nil {
		return err
	}
	s.logger.Info("session cancelled via console", zap.String("session_id", id), zap.String("actor", c.UserID))
	return nil
}

func (s *SessionService) StepMetrics(c *domain.CustomClaims, userID string) []domain.StepPerformance {
	return s.manager.GetStepPerformanceMetrics(s.scopeFor(c, userID))
}

func (s *SessionService) HandoffAnalytics(c *domain.CustomClaims, userID string) domain.HandoffAnalytics {
	return s.manager.GetHandoffAnalytics(s.scopeFor(c, userID))
}

// scopeFor: админ может смотреть любого пользователя или всех сразу (""), остальные — только себя
func (s *SessionService) scopeFor(c *domain.CustomClaims, requested string) string {
	if c.Scopes[domain.ScopeAdmin] {
		return requested
	}
	return c.UserID
}

func (s *SessionService) visible(c *domain.CustomClaims, id string) bool {
	owner := s.manager.OwnerOf(id)
	if owner == "" {
		return false
	}
	return c.Scopes[domain.ScopeAdmin] || owner == c.UserID
}
