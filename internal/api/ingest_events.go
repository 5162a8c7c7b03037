package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procpulse-io/procpulse/internal/api/middleware"
	"github.com/procpulse-io/procpulse/internal/event"
)

// handleIngestEvents handles POST /v1/events.
// The body is either a single event object or an array of events; both paths
// share one idempotent batch insert.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: request body exceeds MaxRequestSize
//   - 400 Bad Request: empty body, invalid JSON, empty event array, or any
//     event failing validation (all field errors reported)
//
// Success and conflict:
//   - 201 Created: events stored (or deduplicated by idempotency key)
//   - 409 Conflict: single-event submission hit a unique constraint other
//     than the idempotency probe
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := middleware.GetRequestID(r.Context())

	payloads, single, problem := s.parseEventsRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	events := make([]*event.Event, len(payloads))
	for i := range payloads {
		events[i] = mapEventPayload(&payloads[i])
	}

	// All-or-nothing validation: this endpoint rejects the whole submission
	// when any event is invalid, reporting every field error at once.
	if fieldErrors := s.validateAll(events); len(fieldErrors) > 0 {
		WriteErrorResponse(w, r, s.logger,
			ValidationFailed("Event validation failed").WithFieldErrors(fieldErrors))

		return
	}

	result, err := s.store.InsertBatch(r.Context(), events)
	if err != nil {
		s.logger.Error("Failed to store events",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger,
			InternalServerError("Failed to store events").WithErrorCode(CodeStorageFailure))

		return
	}

	// A single-event submission that hit a unique constraint surfaces as 409
	// so producers can distinguish duplicates from transient failures.
	if single && len(result.Errors) == 1 {
		insertErr := result.Errors[0]
		if insertErr.Conflict {
			WriteErrorResponse(w, r, s.logger, Conflict(insertErr.Message))

			return
		}

		WriteErrorResponse(w, r, s.logger,
			InternalServerError(insertErr.Message).WithErrorCode(CodeStorageFailure))

		return
	}

	s.logger.Info("Events ingested",
		slog.String("request_id", requestID),
		slog.Int("received", len(events)),
		slog.Int("failed", len(result.Errors)),
		slog.Duration("duration", time.Since(startTime)),
	)

	s.writeJSON(w, r, http.StatusCreated, IngestResponse{
		ExecutionIDs: result.ExecutionIDs,
		Errors:       result.Errors,
	})
}

type batchIngestRequest struct {
	BatchID string         `json:"batch_id"` //nolint: tagliatelle
	Events  []EventPayload `json:"events"`
}

// handleIngestBatch handles POST /v1/events/batch.
// Unlike POST /v1/events this endpoint tolerates partially invalid input:
// invalid rows become per-row errors and the valid remainder is stored.
//
// Responses:
//   - 200 OK: empty events array (nothing to do, no transaction opened)
//   - 201 Created: at least one event stored
//   - 400 Bad Request: every event failed validation
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := middleware.GetRequestID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	body, problem := s.readBody(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var req batchIngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}

	if len(req.Events) == 0 {
		s.writeJSON(w, r, http.StatusOK, BatchIngestResponse{
			BatchID:        batchID,
			ExecutionIDs:   []string{},
			Errors:         []event.InsertError{},
			CorrelationIDs: []string{},
		})

		return
	}

	// The top-level batch id is a default, not an override: an event carrying
	// its own batch_id keeps it.
	events := make([]*event.Event, len(req.Events))
	for i := range req.Events {
		events[i] = mapEventPayload(&req.Events[i])
		if events[i].BatchID == "" {
			events[i].BatchID = batchID
		}
	}

	// Partition valid and invalid rows; only valid rows reach storage.
	validEvents := make([]*event.Event, 0, len(events))
	validIndexes := make([]int, 0, len(events))
	rowErrors := make([]event.InsertError, 0)

	for i := range events {
		if fieldErrors := s.validator.ValidateEvent(events[i]); len(fieldErrors) > 0 {
			rowErrors = append(rowErrors, event.InsertError{
				Index:   i,
				Message: event.ValidationError(fieldErrors).Error(),
			})

			continue
		}

		validEvents = append(validEvents, events[i])
		validIndexes = append(validIndexes, i)
	}

	if len(validEvents) == 0 {
		WriteErrorResponse(w, r, s.logger,
			ValidationFailed(fmt.Sprintf("All %d events failed validation", len(events))))

		return
	}

	result, err := s.store.InsertBatch(r.Context(), validEvents)
	if err != nil {
		s.logger.Error("Failed to store batch",
			slog.String("request_id", requestID),
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger,
			InternalServerError("Failed to store batch").WithErrorCode(CodeStorageFailure))

		return
	}

	// Map storage results back to the original input positions.
	executionIDs := make([]string, len(events))
	for i, validIdx := range validIndexes {
		executionIDs[validIdx] = result.ExecutionIDs[i]
	}

	for _, insertErr := range result.Errors {
		rowErrors = append(rowErrors, event.InsertError{
			Index:   validIndexes[insertErr.Index],
			Message: insertErr.Message,
		})
	}

	inserted := 0
	correlationIDs := make([]string, 0)
	seen := make(map[string]bool)

	for i, id := range executionIDs {
		if id == "" {
			continue
		}

		inserted++

		if cid := events[i].CorrelationID; !seen[cid] {
			seen[cid] = true

			correlationIDs = append(correlationIDs, cid)
		}
	}

	s.logger.Info("Batch ingested",
		slog.String("request_id", requestID),
		slog.String("batch_id", batchID),
		slog.Int("received", len(events)),
		slog.Int("inserted", inserted),
		slog.Int("failed", len(rowErrors)),
		slog.Duration("duration", time.Since(startTime)),
	)

	s.writeJSON(w, r, http.StatusCreated, BatchIngestResponse{
		BatchID:        batchID,
		ExecutionIDs:   executionIDs,
		Errors:         rowErrors,
		TotalInserted:  inserted,
		CorrelationIDs: correlationIDs,
	})
}

// parseEventsRequest parses the POST /v1/events body, which may be a single
// event object or an array. Returns the payloads and whether the submission
// was a single object.
func (s *Server) parseEventsRequest(r *http.Request) ([]EventPayload, bool, *ProblemDetail) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return nil, false, UnsupportedMediaType("Content-Type must be application/json")
	}

	body, problem := s.readBody(r)
	if problem != nil {
		return nil, false, problem
	}

	trimmed := strings.TrimLeftFunc(string(body), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if trimmed == "" {
		return nil, false, BadRequest("Request body cannot be empty")
	}

	// A leading '[' means an array submission, anything else a single object
	if trimmed[0] == '[' {
		var payloads []EventPayload
		if err := json.Unmarshal(body, &payloads); err != nil {
			return nil, false, BadRequest("Invalid JSON: " + err.Error())
		}

		if len(payloads) == 0 {
			return nil, false, BadRequest("Event array cannot be empty")
		}

		return payloads, false, nil
	}

	var payload EventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, BadRequest("Invalid JSON: " + err.Error())
	}

	return []EventPayload{payload}, true, nil
}

// readBody reads the request body bounded by MaxRequestSize.
func (s *Server) readBody(r *http.Request) ([]byte, *ProblemDetail) {
	// Fail fast when the declared length is already oversized
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		return nil, BadRequest("Failed to read request body")
	}

	if int64(len(body)) > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	return body, nil
}

// validateAll validates every event and prefixes field names with the event's
// position so multi-event submissions stay unambiguous.
func (s *Server) validateAll(events []*event.Event) []event.FieldError {
	var all []event.FieldError

	for i, e := range events {
		for _, fe := range s.validator.ValidateEvent(e) {
			if len(events) > 1 {
				fe.Field = fmt.Sprintf("events[%d].%s", i, fe.Field)
			}

			all = append(all, fe)
		}
	}

	return all
}
