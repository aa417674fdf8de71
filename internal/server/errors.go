package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/docextract/internal/common"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an application error code to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrStorage), errors.Is(err, common.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrConfiguration):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	code := common.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("server.request.failed", "error", err, "status", status)
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}
