package http

import (
	"context"
	"log/slog"

	"github.com/SonJH7/Yakssok/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	return logging.FromContextOr(context.Background(), logger)
}

// handlerLogger scopes a logger to one handler operation. The request logger
// placed on the context by RequestLogger and RequireJWT takes precedence, so
// request_id and principal_id carry through to every handler line.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handler, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContextOr(ctx, fallback)
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, "handler", handler, "operation", operation)
	return logger.With(append(pairs, attrs...)...)
}
