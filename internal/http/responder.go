package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/google"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errMissingToken   = errors.New("a bearer token is required")
	errMissingCode    = errors.New("invite code is required")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error_code", code, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

// handleServiceError maps application and provider errors onto the API error
// body and status code.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, "internal", errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		r.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{
			ErrorCode: "validation_failed",
			Message:   vErr.Error(),
			Errors:    vErr.FieldErrors,
		})
		return
	}

	var appErr *application.Error
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Kind {
		case application.KindNotFound:
			status = http.StatusNotFound
		case application.KindAuthorization:
			status = http.StatusForbidden
		case application.KindValidation, application.KindReauth:
			status = http.StatusBadRequest
		case application.KindStateConflict:
			status = http.StatusConflict
		}
		body := errorResponse{ErrorCode: appErr.Code, Message: appErr.Message}
		if appErr.Kind == application.KindReauth {
			body.ReauthURL = application.ReauthURL
		}
		r.writeJSON(ctx, w, status, body)
		return
	}

	var providerErr *google.ProviderError
	if errors.As(err, &providerErr) {
		status := http.StatusBadGateway
		switch providerErr.Code {
		case "invalid_grant", "google_reauth_required", "missing_refresh_token":
			status = http.StatusUnauthorized
		case "insufficient_scope":
			status = http.StatusForbidden
		case "rate_limited":
			status = http.StatusTooManyRequests
		}
		body := errorResponse{ErrorCode: providerErr.Code, Message: "calendar provider request failed"}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			body.ReauthURL = application.ReauthURL
		}
		r.loggerFor(ctx).WarnContext(ctx, "provider call failed", "error_code", providerErr.Code, "status", providerErr.StatusCode)
		r.writeJSON(ctx, w, status, body)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: "canceled", Message: "request was canceled"})
		return
	}

	r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
	r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "internal", Message: "internal server error"})
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	ReauthURL string            `json:"reauth_url,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
