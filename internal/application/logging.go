package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SonJH7/Yakssok/internal/google"
	"github.com/SonJH7/Yakssok/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	return logging.FromContextOr(context.Background(), logger)
}

// serviceLogger tags the request logger, or base, with the service and
// operation names.
func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, "service", serviceName, "operation", operation)
	return logging.FromContextOr(ctx, base).With(append(pairs, attrs...)...)
}

// ErrorKind maps sentinel, validation and provider errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	if code := google.CodeOf(err); code != "" {
		return code
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}

	return "unexpected"
}
