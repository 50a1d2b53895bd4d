package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/starford/octoscope/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps a failure to the response status and client-facing message.
func statusFor(err error) (int, string) {
	var ae *apperr.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout, "upstream timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request canceled"
	case errors.Is(err, apperr.ErrConfig):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrNetwork):
		return http.StatusBadGateway, "upstream unreachable"
	case errors.As(err, &ae) && ae.Kind == apperr.KindHTTPStatus:
		if ae.Code == http.StatusNotFound {
			return http.StatusNotFound, "not found"
		}
		return http.StatusBadGateway, fmt.Sprintf("upstream status %d", ae.Code)
	case errors.Is(err, apperr.ErrDecode):
		return http.StatusBadGateway, "invalid upstream payload"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes the mapped error response. Server-side failures are logged.
func fail(w http.ResponseWriter, op string, err error, attrs ...any) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
	}
	body := errorBody(msg)
	if k := apperr.KindOf(err); k != 0 {
		body.Kind = k.String()
	}
	writeJSON(w, status, body)
}
