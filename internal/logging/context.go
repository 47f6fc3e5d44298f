package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/Amund211/coalesce/internal/domain"
)

type requestLoggerContextKey struct{}

var fallbackLogger = sync.OnceValue(func() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		slog.String("logger", "fallback"),
		slog.String("service", "coalesce"),
	)
})

// FromContext returns the request logger, or a shared fallback logger for contexts
// that never passed through the logging middleware
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(requestLoggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return fallbackLogger()
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	logger := FromContext(ctx)
	return AddToContext(ctx, slog.New(logger.Handler().WithAttrs(attrs)))
}

// AddResourceToContext tags log lines with the resource a request reads or writes.
// The policy is left out when empty.
func AddResourceToContext(ctx context.Context, path string, policy domain.FetchPolicy) context.Context {
	attrs := []slog.Attr{slog.String("path", path)}
	if policy != "" {
		attrs = append(attrs, slog.String("fetchPolicy", string(policy)))
	}
	return AddMetaToContext(ctx, attrs...)
}

// AddRequestToContext tags log lines with the request id of a query or mutation
func AddRequestToContext(ctx context.Context, requestID string) context.Context {
	return AddMetaToContext(ctx, slog.String("requestID", requestID))
}
