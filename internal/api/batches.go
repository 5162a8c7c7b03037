package api

import (
	"net/http"
	"strings"
)

// handleGetBatchEvents handles GET /v1/events/batch/{id}.
// Returns one page of the batch's events in timestamp order plus batch-wide
// counters. An unknown batch id yields an empty page.
func (s *Server) handleGetBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(r.PathValue("id"))
	if batchID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("batch id is required"))

		return
	}

	result, err := s.store.GetByBatchID(r.Context(), batchID, parsePageRequest(r.URL.Query()))
	if err != nil {
		s.queryError(w, r, "batch events", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, BatchEventsResponse{
		BatchID:              batchID,
		PagedEventsResponse:  toPagedResponse(&result.PagedEvents),
		UniqueCorrelationIDs: result.UniqueCorrelationIDs,
		SuccessCount:         result.SuccessCount,
		FailureCount:         result.FailureCount,
	})
}

// handleGetBatchSummary handles GET /v1/events/batch/{id}/summary.
// Aggregates the batch per process instance. Unlike the events page, a batch
// with no events at all is a 404: there is nothing to summarize.
func (s *Server) handleGetBatchSummary(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(r.PathValue("id"))
	if batchID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("batch id is required"))

		return
	}

	summary, err := s.store.GetBatchSummary(r.Context(), batchID)
	if err != nil {
		s.queryError(w, r, "batch summary", err)

		return
	}

	if summary.TotalProcesses == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events found for batch "+batchID))

		return
	}

	s.writeJSON(w, r, http.StatusOK, BatchSummaryResponse{
		BatchID:        summary.BatchID,
		TotalProcesses: summary.TotalProcesses,
		Completed:      summary.Completed,
		Failed:         summary.Failed,
		InProgress:     summary.InProgress,
		CorrelationIDs: summary.CorrelationIDs,
		FirstEventAt:   summary.FirstEventAt,
		LastEventAt:    summary.LastEventAt,
	})
}
