package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/applyflow/internal/console/service"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/infra/auth"
	"github.com/xela07ax/applyflow/internal/session"
)

type SessionHandler struct {
	service *service.SessionService
}

func NewSessionHandler(s *service.SessionService) *SessionHandler {
	return &SessionHandler{service: s}
}

// startBody - тело POST /v1/sessions. Задержка в миллисекундах, не в наносекундах time.Duration.
type startBody struct {
	UserID           string                `json:"user_id"`
	Criteria         domain.SearchCriteria `json:"criteria"`
	MaxItems         int                   `json:"max_items"`
	AutoSubmit       *bool                 `json:"auto_submit"`
	RateLimitDelayMs int64                 `json:"rate_limit_delay_ms"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())

	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.ValidationError("console.start", "malformed request body"))
		return
	}

	autoSubmit := h.service.AutoSubmitDefault
	if body.AutoSubmit != nil {
		autoSubmit = *body.AutoSubmit
	}

	id, err := h.service.Start(r.Context(), claims, session.StartRequest{
		UserID:   body.UserID,
		Criteria: body.Criteria,
		Config: domain.SessionConfig{
			MaxItems:       body.MaxItems,
			AutoSubmit:     autoSubmit,
			RateLimitDelay: time.Duration(body.RateLimitDelayMs) * time.Millisecond,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{SessionID: id, Status: string(domain.SessionRunning)})
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	writeJSON(w, http.StatusOK, h.service.List(claims, r.URL.Query().Get("user_id"), queryInt(r, "limit", 50)))
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	s := h.service.Get(claims, chi.URLParam(r, "id"))
	if s.Status == domain.SessionNotFound {
		writeJSON(w, http.StatusNotFound, s)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	if err := h.service.Cancel(r.Context(), claims, chi.URLParam(r, "id")); err != nil {
		if isTerminal(err) {
			writeJSON(w, http.StatusConflict, errorBody{Error: "session already finished", Kind: domain.KindValidation})
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *SessionHandler) StepMetrics(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	writeJSON(w, http.StatusOK, h.service.StepMetrics(claims, r.URL.Query().Get("user_id")))
}

func (h *SessionHandler) HandoffAnalytics(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	writeJSON(w, http.StatusOK, h.service.HandoffAnalytics(claims, r.URL.Query().Get("user_id")))
}
