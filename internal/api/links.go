package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/procpulse-io/procpulse/internal/api/middleware"
	"github.com/procpulse-io/procpulse/internal/event"
)

// handleCreateLink handles POST /v1/correlation-links.
// Binds a correlation id to a business account after the fact. Re-binding
// the same correlation id is an idempotent upsert, so producers can safely
// retry.
func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	body, problem := s.readBody(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var req LinkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return
	}

	req.CorrelationID = strings.TrimSpace(req.CorrelationID)
	req.AccountID = strings.TrimSpace(req.AccountID)

	var fieldErrors []event.FieldError

	if req.CorrelationID == "" {
		fieldErrors = append(fieldErrors, event.FieldError{
			Field: "correlation_id", Error: "correlation_id is required",
		})
	}

	if req.AccountID == "" {
		fieldErrors = append(fieldErrors, event.FieldError{
			Field: "account_id", Error: "account_id is required",
		})
	}

	if len(fieldErrors) > 0 {
		WriteErrorResponse(w, r, s.logger,
			ValidationFailed("Link validation failed").WithFieldErrors(fieldErrors))

		return
	}

	link := &event.CorrelationLink{
		CorrelationID: req.CorrelationID,
		AccountID:     req.AccountID,
		ApplicationID: strings.TrimSpace(req.ApplicationID),
		CustomerID:    strings.TrimSpace(req.CustomerID),
		CardLast4:     strings.TrimSpace(req.CardLast4),
		LinkedAt:      time.Now().UTC(),
	}

	if err := s.store.UpsertLink(r.Context(), link); err != nil {
		s.logger.Error("Failed to upsert correlation link",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("correlation_id", link.CorrelationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger,
			InternalServerError("Failed to store correlation link").WithErrorCode(CodeStorageFailure))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, LinkResponse{
		CorrelationID: link.CorrelationID,
		AccountID:     link.AccountID,
		ApplicationID: link.ApplicationID,
		CustomerID:    link.CustomerID,
		CardLast4:     link.CardLast4,
		LinkedAt:      link.LinkedAt,
	})
}
