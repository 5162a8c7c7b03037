package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/procpulse-io/procpulse/internal/api/middleware"
	"github.com/procpulse-io/procpulse/internal/event"
	"github.com/procpulse-io/procpulse/internal/storage"
)

// handleGetCorrelation handles GET /v1/events/correlation/{id}.
// Returns every event of one process instance in step order, plus the
// account binding when a correlation link exists. An unknown correlation id
// yields an empty, unlinked timeline rather than a 404.
func (s *Server) handleGetCorrelation(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.PathValue("id"))
	if correlationID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("correlation id is required"))

		return
	}

	result, err := s.store.GetByCorrelationID(r.Context(), correlationID)
	if err != nil {
		s.queryError(w, r, "correlation timeline", err)

		return
	}

	response := CorrelationResponse{
		CorrelationID: correlationID,
		Events:        toEventPayloads(result.Events),
	}

	if result.Link != nil {
		response.AccountID = result.Link.AccountID
		response.IsLinked = true
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleGetTrace handles GET /v1/events/trace/{id}.
// Returns the trace's events in timestamp order with SQL-computed aggregates.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := strings.TrimSpace(r.PathValue("id"))
	if traceID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("trace id is required"))

		return
	}

	result, err := s.store.GetByTraceID(r.Context(), traceID)
	if err != nil {
		s.queryError(w, r, "trace", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, TraceResponse{
		TraceID:         traceID,
		Events:          toEventPayloads(result.Events),
		SystemsInvolved: result.SystemsInvolved,
		TotalDurationMs: result.TotalDurationMs,
	})
}

// handleGetAccountEvents handles GET /v1/events/account/{id}.
//
// Query parameters:
//   - start_date, end_date: RFC 3339 timestamp or YYYY-MM-DD date
//   - process_name: exact match filter
//   - event_status: one of the four statuses
//   - include_linked: widen to correlations bound via correlation links
//   - page, page_size: pagination (page_size clamped to 500)
func (s *Server) handleGetAccountEvents(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.PathValue("id"))
	if accountID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("account id is required"))

		return
	}

	query := event.AccountQuery{
		AccountID:   accountID,
		ProcessName: strings.TrimSpace(r.URL.Query().Get("process_name")),
		Page:        parsePageRequest(r.URL.Query()),
	}

	if status := strings.TrimSpace(r.URL.Query().Get("event_status")); status != "" {
		eventStatus := event.Status(strings.ToUpper(status))
		if !eventStatus.IsValid() {
			WriteErrorResponse(w, r, s.logger, BadRequest("invalid event_status: "+status))

			return
		}

		query.EventStatus = eventStatus
	}

	start, problem := parseDateParam(r.URL.Query(), "start_date")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	end, problem := parseDateParam(r.URL.Query(), "end_date")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	query.StartDate = start
	query.EndDate = end
	query.IncludeLinked = parseBoolParam(r.URL.Query(), "include_linked")

	page, err := s.store.GetByAccount(r.Context(), query)
	if err != nil {
		s.queryError(w, r, "account timeline", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toPagedResponse(page))
}

// handleSearch handles GET /v1/events/search?query=...
// Matches against summary and result text, paginated. "q" is accepted as a
// short alias for the query parameter.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("query"))
	if q == "" {
		q = strings.TrimSpace(r.URL.Query().Get("q"))
	}

	if q == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("query parameter is required"))

		return
	}

	page, err := s.store.Search(r.Context(), event.SearchQuery{
		Query: q,
		Page:  parsePageRequest(r.URL.Query()),
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmptySearchQuery) {
			WriteErrorResponse(w, r, s.logger, BadRequest("query parameter is required"))

			return
		}

		s.queryError(w, r, "search", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toPagedResponse(page))
}

// queryError logs a storage failure and writes the 500 response.
func (s *Server) queryError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	s.logger.Error("Query failed",
		slog.String("operation", operation),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger,
		InternalServerError("Failed to query "+operation).WithErrorCode(CodeStorageFailure))
}

// parsePageRequest reads page and page_size query parameters.
// Invalid or missing values fall back to defaults; the storage layer clamps.
func parsePageRequest(values url.Values) event.PageRequest {
	page := event.PageRequest{}

	if v, err := strconv.Atoi(values.Get("page")); err == nil {
		page.Page = v
	}

	if v, err := strconv.Atoi(values.Get("page_size")); err == nil {
		page.PageSize = v
	}

	return page.Normalize()
}

// parseDateParam parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func parseDateParam(values url.Values, name string) (*time.Time, *ProblemDetail) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}

	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}

	return nil, BadRequest(fmt.Sprintf("invalid %s: %q, expected RFC 3339 or YYYY-MM-DD", name, raw))
}

// parseBoolParam reads an optional boolean query parameter, defaulting to false.
func parseBoolParam(values url.Values, name string) bool {
	v, err := strconv.ParseBool(values.Get(name))

	return err == nil && v
}
