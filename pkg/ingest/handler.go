package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jdugan/esdb/pkg/httpx"
)

// Handler serves the ingest endpoint.
type Handler struct {
	coord *Coordinator
}

// NewHandler creates an ingest handler.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// storeResponse carries the boundary's status byte. Failures to store are
// reported in the status, not the HTTP code; only a malformed request body
// is an HTTP-level error.
type storeResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleStorePollResult handles POST /v1/pollresult.
func (h *Handler) HandleStorePollResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var pr PollResult
	if err := json.NewDecoder(r.Body).Decode(&pr); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	status := h.coord.StorePollResult(r.Context(), pr)
	resp := storeResponse{Status: status}
	if status != StatusOK {
		resp.Message = status.String()
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}
