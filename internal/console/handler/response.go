package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/applyflow/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

// writeError отдает только санитизированный текст, детали остаются в логах
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status, msg := http.StatusInternalServerError, domain.PublicMessage(err)

	switch kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
		// Текст валидации безопасен и полезен клиенту
		var de *domain.Error
		if errors.As(err, &de) && de.Err == nil {
			msg = de.Msg
		}
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindAuth:
		status, msg = http.StatusForbidden, "forbidden"
	case domain.KindCircuitOpen:
		status = http.StatusServiceUnavailable
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	case domain.KindRateLimit:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrAlreadyTerminal)
}
