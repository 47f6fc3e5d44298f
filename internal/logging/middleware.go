package logging

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestLoggerMiddleware(logger *slog.Logger) func(next http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			requesterID := r.Header.Get("X-Requester-Id")
			if requesterID == "" {
				requesterID = "<missing>"
			}

			policy := r.URL.Query().Get("policy")
			if policy == "" {
				policy = "<missing>"
			}

			userAgent := r.UserAgent()
			if userAgent == "" {
				userAgent = "<missing>"
			}

			requestLogger := logger.With(
				slog.String("correlationID", uuid.New().String()),
				slog.String("requesterId", requesterID),
				slog.String("policy", policy),
				slog.String("userAgent", userAgent),
				slog.String("methodPath", r.Method+" "+r.URL.Path),
			)

			next(w, r.WithContext(AddToContext(r.Context(), requestLogger)))
		}
	}
}
