package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/procpulse-io/procpulse/internal/storage"
)

// handleGetAccountSummary handles GET /v1/accounts/{id}/summary.
// Serves the materialized per-account aggregate. Summaries are populated
// out-of-band and may lag behind the event stream; an absent row is a 404,
// not an error.
func (s *Server) handleGetAccountSummary(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.PathValue("id"))
	if accountID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("account id is required"))

		return
	}

	summary, err := s.store.GetAccountSummary(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No summary available for account "+accountID))

			return
		}

		s.queryError(w, r, "account summary", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, AccountSummaryResponse{
		AccountID:            summary.AccountID,
		FirstEventAt:         summary.FirstEventAt,
		LastEventAt:          summary.LastEventAt,
		TotalEvents:          summary.TotalEvents,
		TotalProcesses:       summary.TotalProcesses,
		FailureCount:         summary.FailureCount,
		SystemsTouched:       summary.SystemsTouched,
		RecentCorrelationIDs: summary.RecentCorrelationIDs,
		UpdatedAt:            summary.UpdatedAt,
	})
}
