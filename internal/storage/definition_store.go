package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procpulse-io/procpulse/internal/event"
)

// ErrDefinitionStoreFailed is returned when a process definition operation fails.
var ErrDefinitionStoreFailed = errors.New("process definition storage failed")

// UpsertDefinition inserts or updates a catalog row keyed by process name.
// Used by the startup catalog seeder; re-seeding the same file is idempotent.
func (s *EventStore) UpsertDefinition(ctx context.Context, def *event.ProcessDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition cannot be nil", ErrDefinitionStoreFailed)
	}

	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	_, err := s.conn.db.ExecContext(ctx,
		`INSERT INTO process_definitions
			(process_name, owning_team, expected_steps, sla_seconds, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (process_name) DO UPDATE SET
			owning_team    = EXCLUDED.owning_team,
			expected_steps = EXCLUDED.expected_steps,
			sla_seconds    = EXCLUDED.sla_seconds,
			description    = EXCLUDED.description,
			updated_at     = NOW()`,
		def.ProcessName,
		nullStr(def.OwningTeam),
		def.ExpectedSteps,
		def.SLASeconds,
		nullStr(def.Description),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDefinitionStoreFailed, err)
	}

	return nil
}

// GetDefinition returns one catalog row. Returns ErrNotFound for an unknown
// process name.
func (s *EventStore) GetDefinition(ctx context.Context, processName string) (*event.ProcessDefinition, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	def, err := scanDefinition(s.conn.db.QueryRowContext(ctx,
		`SELECT process_name, owning_team, expected_steps, sla_seconds, description
		   FROM process_definitions
		  WHERE process_name = $1`,
		processName,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: process definition %q", ErrNotFound, processName)
		}

		return nil, fmt.Errorf("%w: %w", ErrDefinitionStoreFailed, err)
	}

	return def, nil
}

// ListDefinitions returns the whole catalog ordered by process name.
func (s *EventStore) ListDefinitions(ctx context.Context) ([]event.ProcessDefinition, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	rows, err := s.conn.db.QueryContext(ctx,
		`SELECT process_name, owning_team, expected_steps, sla_seconds, description
		   FROM process_definitions
		  ORDER BY process_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefinitionStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	defs := make([]event.ProcessDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDefinitionStoreFailed, err)
		}

		defs = append(defs, *def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefinitionStoreFailed, err)
	}

	return defs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*event.ProcessDefinition, error) {
	var (
		def                     event.ProcessDefinition
		owningTeam, description sql.NullString
	)

	err := row.Scan(&def.ProcessName, &owningTeam, &def.ExpectedSteps, &def.SLASeconds, &description)
	if err != nil {
		return nil, err
	}

	def.OwningTeam = owningTeam.String
	def.Description = description.String

	return &def, nil
}
