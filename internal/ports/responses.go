package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/logging"
	"github.com/Amund211/coalesce/internal/reporting"
)

type resourceResponse struct {
	Success    bool            `json:"success"`
	Path       string          `json:"path"`
	Source     string          `json:"source,omitempty"`
	Optimistic bool            `json:"optimistic,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Cause      string          `json:"cause,omitempty"`
	Upstream   json.RawMessage `json:"upstream,omitempty"`
}

const (
	sourceCache   = "cache"
	sourceNetwork = "network"
)

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"cause":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}

func writeDocument(ctx context.Context, w http.ResponseWriter, path, source string, doc domain.Document) {
	writeJSON(ctx, w, http.StatusOK, resourceResponse{
		Success:    true,
		Path:       path,
		Source:     source,
		Optimistic: doc.Optimistic,
		Data:       doc.Body,
	})
}

func writeError(ctx context.Context, w http.ResponseWriter, path, cause string, statusCode int) {
	writeJSON(ctx, w, statusCode, resourceResponse{
		Success: false,
		Path:    path,
		Cause:   cause,
	})
}

// writeRequestError maps the error of a query or mutation to a response.
// Unexpected errors are reported.
func writeRequestError(ctx context.Context, w http.ResponseWriter, path string, err error) {
	var statusErr *domain.UpstreamStatusError

	switch {
	case ctx.Err() != nil:
		// The client is gone
		logging.FromContext(ctx).InfoContext(ctx, "Request abandoned by client", "error", err)
		return
	case errors.Is(err, domain.ErrCancelled):
		writeError(ctx, w, path, "request cancelled", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrTemporarilyUnavailable):
		writeError(ctx, w, path, "temporarily unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &statusErr) && statusErr.StatusCode < 500:
		response := resourceResponse{
			Success: false,
			Path:    path,
			Cause:   "upstream rejected request",
		}
		if json.Valid(statusErr.Body) {
			response.Upstream = statusErr.Body
		}
		writeJSON(ctx, w, statusErr.StatusCode, response)
	case errors.Is(err, domain.ErrUpstream):
		reporting.Report(ctx, err)
		writeError(ctx, w, path, "upstream error", http.StatusBadGateway)
	default:
		reporting.Report(ctx, err)
		writeError(ctx, w, path, "internal server error", http.StatusInternalServerError)
	}
}
