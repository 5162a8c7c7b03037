package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/procpulse-io/procpulse/internal/config"
	"github.com/procpulse-io/procpulse/internal/event"
)

// Sentinel errors for event storage operations.
var (
	// ErrEventStoreFailed is returned when an event storage operation fails.
	ErrEventStoreFailed = errors.New("event storage failed")

	// ErrIdempotencyCheckFailed is returned when the idempotency probe fails.
	ErrIdempotencyCheckFailed = errors.New("idempotency check failed")

	// ErrUniqueViolation is returned when a row collides on a unique index
	// other than the idempotency key.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrNotFound is returned when a lookup on an explicit identifier has no row.
	ErrNotFound = errors.New("not found")

	// Compile-time interface assertions. The EventStore satisfies every
	// storage contract the API layer depends on; query methods live in
	// query_store.go, link methods in link_store.go, catalog methods in
	// definition_store.go and summary_store.go (same package, same type).
	_ event.Store           = (*EventStore)(nil)
	_ event.QueryStore      = (*EventStore)(nil)
	_ event.LinkStore       = (*EventStore)(nil)
	_ event.DefinitionStore = (*EventStore)(nil)
	_ event.SummaryStore    = (*EventStore)(nil)
)

const (
	uniqueViolationCode = "23505"

	// idempotencyIndexName is the partial unique index backing the
	// idempotency probe; collisions on it echo the stored id instead of
	// surfacing a conflict.
	idempotencyIndexName = "idx_events_idempotency_key"
)

// insertColumns is the column list for event inserts, matched positionally
// by insertArgs. is_deleted and created_at take their defaults.
const insertColumns = `execution_id, correlation_id, trace_id, span_id, parent_span_id,
	span_links, account_id, batch_id, application_id, originating_system,
	target_system, process_name, step_sequence, step_name, event_type,
	event_status, identifiers, metadata, summary, result, event_timestamp,
	endpoint, http_method, http_status_code, request_payload, response_payload,
	error_code, error_message, execution_time_ms, idempotency_key`

const insertColumnCount = 30

// PostgreSQL caps a statement at 65535 bind parameters, so multi-VALUES
// inserts are chunked to stay under the limit.
const (
	maxBulkParams = 65000
	bulkChunkRows = maxBulkParams / insertColumnCount
)

type (
	// EventStore implements the event storage contracts with a PostgreSQL backend.
	//
	// Batch inserts run in a single transaction with idempotency
	// deduplication and a per-row savepoint fallback so one bad row does
	// not reject the batch.
	EventStore struct {
		conn   *Connection
		logger *slog.Logger
	}

	// pendingRow is a prepared insert for one input position.
	pendingRow struct {
		index int
		key   string
		args  []interface{}
	}
)

// NewEventStore creates a PostgreSQL-backed event store.
// Returns ErrNoDatabaseConnection if the connection is nil.
func NewEventStore(conn *Connection) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the database connection is healthy and ready to serve requests.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// InsertBatch stores a batch of events inside one transaction.
//
// Steps:
//  1. Probe all present idempotency keys with a single indexed lookup.
//  2. Partition input into known rows (echo the stored execution id) and
//     new rows (assign a fresh UUID).
//  3. Bulk-insert the new partition under a savepoint. On bulk failure,
//     roll back to the savepoint and insert per row, each under its own
//     savepoint, so a single bad row surfaces as a per-row error instead
//     of rejecting the batch.
//
// ExecutionIDs comes back in input order. Rows that failed per-row carry
// an empty string at their index and an entry in Errors. An empty input
// returns an empty result without opening a transaction.
func (s *EventStore) InsertBatch(ctx context.Context, events []*event.Event) (*event.BatchInsertResult, error) {
	result := &event.BatchInsertResult{ExecutionIDs: make([]string, len(events))}

	if len(events) == 0 {
		return result, nil
	}

	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	tx, err := s.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	existing, err := s.probeIdempotencyKeys(ctx, tx, events)
	if err != nil {
		return nil, err
	}

	rows := s.partition(events, existing, result)

	if len(rows) > 0 {
		if err := s.bulkInsert(ctx, tx, rows); err != nil {
			s.logger.Warn("bulk insert failed, falling back to per-row inserts",
				slog.Int("rows", len(rows)),
				slog.String("error", err.Error()),
			)

			if err := s.insertPerRow(ctx, tx, rows, result); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrEventStoreFailed, err)
	}

	return result, nil
}

// probeIdempotencyKeys returns {key -> existing execution id} for every key
// in the batch that is already stored.
func (s *EventStore) probeIdempotencyKeys(
	ctx context.Context,
	tx *sql.Tx,
	events []*event.Event,
) (map[string]string, error) {
	keys := make([]string, 0, len(events))

	for _, ev := range events {
		if ev != nil && ev.IdempotencyKey != "" {
			keys = append(keys, ev.IdempotencyKey)
		}
	}

	existing := make(map[string]string, len(keys))

	if len(keys) == 0 {
		return existing, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT idempotency_key, execution_id
		   FROM events
		  WHERE idempotency_key = ANY($1) AND is_deleted = FALSE`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdempotencyCheckFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIdempotencyCheckFailed, err)
		}

		existing[key] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdempotencyCheckFailed, err)
	}

	return existing, nil
}

// partition splits the batch into known rows (echoed into the result) and
// new rows to insert. A key repeated within one batch echoes the id assigned
// to its first occurrence.
func (s *EventStore) partition(
	events []*event.Event,
	existing map[string]string,
	result *event.BatchInsertResult,
) []pendingRow {
	rows := make([]pendingRow, 0, len(events))

	for i, ev := range events {
		if ev == nil {
			result.Errors = append(result.Errors, event.InsertError{
				Index:   i,
				Message: "event cannot be nil",
			})

			continue
		}

		if ev.IdempotencyKey != "" {
			if id, ok := existing[ev.IdempotencyKey]; ok {
				result.ExecutionIDs[i] = id

				continue
			}
		}

		executionID := uuid.NewString()

		args, err := insertArgs(executionID, ev)
		if err != nil {
			result.Errors = append(result.Errors, event.InsertError{
				Index:   i,
				Message: err.Error(),
			})

			continue
		}

		result.ExecutionIDs[i] = executionID

		if ev.IdempotencyKey != "" {
			existing[ev.IdempotencyKey] = executionID
		}

		rows = append(rows, pendingRow{index: i, key: ev.IdempotencyKey, args: args})
	}

	return rows
}

// bulkInsert writes the pending rows with multi-VALUES statements under one
// savepoint, chunked to respect the parameter limit. Any chunk failing rolls
// the whole savepoint back, leaving the transaction usable for the per-row
// fallback across all rows.
func (s *EventStore) bulkInsert(ctx context.Context, tx *sql.Tx, rows []pendingRow) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT bulk_insert"); err != nil {
		return err
	}

	for start := 0; start < len(rows); start += bulkChunkRows {
		end := start + bulkChunkRows
		if end > len(rows) {
			end = len(rows)
		}

		chunk := rows[start:end]
		args := make([]interface{}, 0, len(chunk)*insertColumnCount)

		for _, row := range chunk {
			args = append(args, row.args...)
		}

		if _, err := tx.ExecContext(ctx, buildMultiInsertSQL(len(chunk)), args...); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT bulk_insert"); rbErr != nil {
				return fmt.Errorf("%w: rollback to savepoint: %w", ErrEventStoreFailed, rbErr)
			}

			return err
		}
	}

	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT bulk_insert")

	return err
}

// buildMultiInsertSQL renders a multi-VALUES insert for rowCount rows.
func buildMultiInsertSQL(rowCount int) string {
	var sb strings.Builder

	sb.WriteString("INSERT INTO events (")
	sb.WriteString(insertColumns)
	sb.WriteString(") VALUES ")

	for i := 0; i < rowCount; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteByte('(')

		for j := 0; j < insertColumnCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}

			fmt.Fprintf(&sb, "$%d", i*insertColumnCount+j+1)
		}

		sb.WriteByte(')')
	}

	return sb.String()
}

// insertPerRow retries each pending row individually under its own savepoint
// and records per-row failures in the result.
func (s *EventStore) insertPerRow(
	ctx context.Context,
	tx *sql.Tx,
	rows []pendingRow,
	result *event.BatchInsertResult,
) error {
	insertSQL := buildSingleInsertSQL()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT row_insert"); err != nil {
			return fmt.Errorf("%w: savepoint: %w", ErrEventStoreFailed, err)
		}

		_, execErr := tx.ExecContext(ctx, insertSQL, row.args...)
		if execErr == nil {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT row_insert"); err != nil {
				return fmt.Errorf("%w: release savepoint: %w", ErrEventStoreFailed, err)
			}

			continue
		}

		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT row_insert"); err != nil {
			return fmt.Errorf("%w: rollback to savepoint: %w", ErrEventStoreFailed, err)
		}

		if isConnectionError(execErr) {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, execErr)
		}

		s.recordRowFailure(ctx, tx, row, execErr, result)
	}

	return nil
}

// recordRowFailure classifies a per-row insert error. A collision on the
// idempotency index means a concurrent writer stored the same key first;
// the stored id is echoed instead of an error. Any other unique violation
// is a conflict.
func (s *EventStore) recordRowFailure(
	ctx context.Context,
	tx *sql.Tx,
	row pendingRow,
	execErr error,
	result *event.BatchInsertResult,
) {
	var pqErr *pq.Error

	if errors.As(execErr, &pqErr) && pqErr.Code == uniqueViolationCode {
		if pqErr.Constraint == idempotencyIndexName && row.key != "" {
			var id string

			err := tx.QueryRowContext(ctx,
				`SELECT execution_id FROM events
				  WHERE idempotency_key = $1 AND is_deleted = FALSE`,
				row.key,
			).Scan(&id)
			if err == nil {
				result.ExecutionIDs[row.index] = id

				return
			}
		}

		result.ExecutionIDs[row.index] = ""
		result.Errors = append(result.Errors, event.InsertError{
			Index:    row.index,
			Message:  fmt.Sprintf("%s: %s", ErrUniqueViolation, pqErr.Message),
			Conflict: true,
		})

		return
	}

	result.ExecutionIDs[row.index] = ""
	result.Errors = append(result.Errors, event.InsertError{
		Index:   row.index,
		Message: execErr.Error(),
	})
}

// buildSingleInsertSQL renders the one-row insert statement used by the
// per-row fallback.
func buildSingleInsertSQL() string {
	var sb strings.Builder

	sb.WriteString("INSERT INTO events (")
	sb.WriteString(insertColumns)
	sb.WriteString(") VALUES (")

	for j := 0; j < insertColumnCount; j++ {
		if j > 0 {
			sb.WriteString(", ")
		}

		fmt.Fprintf(&sb, "$%d", j+1)
	}

	sb.WriteByte(')')

	return sb.String()
}

// insertArgs renders an event into positional arguments matching insertColumns.
func insertArgs(executionID string, ev *event.Event) ([]interface{}, error) {
	identifiers, err := json.Marshal(ev.Identifiers)
	if err != nil {
		return nil, fmt.Errorf("marshal identifiers: %w", err)
	}

	var metadata interface{}

	if ev.Metadata != nil {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}

		metadata = b
	}

	var spanLinks interface{}

	if len(ev.SpanLinks) > 0 {
		b, err := json.Marshal(ev.SpanLinks)
		if err != nil {
			return nil, fmt.Errorf("marshal span_links: %w", err)
		}

		spanLinks = b
	}

	return []interface{}{
		executionID,
		ev.CorrelationID,
		ev.TraceID,
		nullStr(ev.SpanID),
		nullStr(ev.ParentSpanID),
		spanLinks,
		nullStr(ev.AccountID),
		nullStr(ev.BatchID),
		ev.ApplicationID,
		ev.OriginatingSystem,
		ev.TargetSystem,
		ev.ProcessName,
		ev.StepSequence,
		nullStr(ev.StepName),
		string(ev.EventType),
		string(ev.EventStatus),
		identifiers,
		metadata,
		ev.Summary,
		nullStr(ev.Result),
		ev.EventTimestamp.UTC(),
		nullStr(ev.Endpoint),
		nullStr(string(ev.HTTPMethod)),
		nullInt(ev.HTTPStatusCode),
		nullStr(ev.RequestPayload),
		nullStr(ev.ResponsePayload),
		nullStr(ev.ErrorCode),
		nullStr(ev.ErrorMessage),
		ev.ExecutionTimeMs,
		nullStr(ev.IdempotencyKey),
	}, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}

func nullInt(i int) interface{} {
	if i == 0 {
		return nil
	}

	return i
}
