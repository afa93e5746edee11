package handler

import (
	"net/http"

	"github.com/xela07ax/applyflow/internal/console/service"
	"github.com/xela07ax/applyflow/internal/infra/auth"
)

type AgentHandler struct {
	service *service.AgentService
}

func NewAgentHandler(s *service.AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.List())
}

func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Health())
}

// Test синхронно прогоняет health-check, ответ ограничен таймаутом проверки
func (h *AgentHandler) Test(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.RunHealthChecks(r.Context(), auth.UserIDFrom(r.Context())))
}
