package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/procpulse-io/procpulse/internal/event"
	"github.com/procpulse-io/procpulse/internal/storage"
)

// handleListDefinitions handles GET /v1/process-definitions.
func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	definitions, err := s.store.ListDefinitions(r.Context())
	if err != nil {
		s.queryError(w, r, "process definitions", err)

		return
	}

	responses := make([]ProcessDefinitionResponse, len(definitions))
	for i := range definitions {
		responses[i] = toDefinitionResponse(&definitions[i])
	}

	s.writeJSON(w, r, http.StatusOK, responses)
}

// handleGetDefinition handles GET /v1/process-definitions/{name}.
// Unknown process names are a 404.
func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("process name is required"))

		return
	}

	definition, err := s.store.GetDefinition(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Unknown process: "+name))

			return
		}

		s.queryError(w, r, "process definition", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toDefinitionResponse(definition))
}

func toDefinitionResponse(def *event.ProcessDefinition) ProcessDefinitionResponse {
	return ProcessDefinitionResponse{
		ProcessName:   def.ProcessName,
		OwningTeam:    def.OwningTeam,
		ExpectedSteps: def.ExpectedSteps,
		SLASeconds:    def.SLASeconds,
		Description:   def.Description,
	}
}
