package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/procpulse-io/procpulse/internal/event"
)

// ErrQueryFailed is returned when a read path fails.
var ErrQueryFailed = errors.New("event query failed")

// selectColumns is the column list for event reads, matched positionally
// by scanEvent.
const selectColumns = `execution_id, correlation_id, trace_id, span_id, parent_span_id,
	span_links, account_id, batch_id, application_id, originating_system,
	target_system, process_name, step_sequence, step_name, event_type,
	event_status, identifiers, metadata, summary, result, event_timestamp,
	endpoint, http_method, http_status_code, request_payload, response_payload,
	error_code, error_message, execution_time_ms, idempotency_key`

// GetByCorrelationID returns all events of one process instance ordered by
// (step_sequence, event_timestamp) ascending, plus the account link if one
// has been bound.
func (s *EventStore) GetByCorrelationID(ctx context.Context, correlationID string) (*event.CorrelationResult, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	query := `SELECT ` + selectColumns + `
		 FROM events
		WHERE correlation_id = $1 AND is_deleted = FALSE
		ORDER BY step_sequence ASC, event_timestamp ASC`

	events, err := s.queryEvents(ctx, query, correlationID)
	if err != nil {
		return nil, err
	}

	link, err := s.GetLink(ctx, correlationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return &event.CorrelationResult{Events: events, Link: link}, nil
}

// GetByTraceID returns all events of one trace ordered by event_timestamp
// ascending. The distinct target systems and the total duration are computed
// by SQL aggregates so large traces never require a full-result scan in Go.
func (s *EventStore) GetByTraceID(ctx context.Context, traceID string) (*event.TraceResult, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	query := `SELECT ` + selectColumns + `
		 FROM events
		WHERE trace_id = $1 AND is_deleted = FALSE
		ORDER BY event_timestamp ASC`

	events, err := s.queryEvents(ctx, query, traceID)
	if err != nil {
		return nil, err
	}

	var (
		systems    []string
		durationMs int64
	)

	err = s.conn.db.QueryRowContext(ctx,
		`SELECT COALESCE(ARRAY_AGG(DISTINCT target_system), ARRAY[]::text[]),
		        COALESCE(FLOOR(EXTRACT(EPOCH FROM (MAX(event_timestamp) - MIN(event_timestamp))) * 1000), 0)::bigint
		   FROM events
		  WHERE trace_id = $1 AND is_deleted = FALSE`,
		traceID,
	).Scan(pq.Array(&systems), &durationMs)
	if err != nil {
		return nil, fmt.Errorf("%w: trace aggregates: %w", ErrQueryFailed, err)
	}

	return &event.TraceResult{
		Events:          events,
		SystemsInvolved: systems,
		TotalDurationMs: durationMs,
	}, nil
}

// GetByAccount returns one page of an account's timeline ordered by
// event_timestamp descending. With IncludeLinked set, events whose
// correlation id is bound to the account via a correlation link match as
// well as events carrying the account id directly.
func (s *EventStore) GetByAccount(ctx context.Context, q event.AccountQuery) (*event.PagedEvents, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	page := q.Page.Normalize()

	var (
		sb   strings.Builder
		args []interface{}
	)

	args = append(args, q.AccountID)
	sb.WriteString(`SELECT ` + selectColumns + `, COUNT(*) OVER() AS total_count
		 FROM events
		WHERE is_deleted = FALSE`)

	if q.IncludeLinked {
		sb.WriteString(` AND (account_id = $1 OR correlation_id IN
			(SELECT correlation_id FROM correlation_links WHERE account_id = $1))`)
	} else {
		sb.WriteString(` AND account_id = $1`)
	}

	if q.StartDate != nil {
		args = append(args, q.StartDate.UTC())
		fmt.Fprintf(&sb, " AND event_timestamp >= $%d", len(args))
	}

	if q.EndDate != nil {
		args = append(args, q.EndDate.UTC())
		fmt.Fprintf(&sb, " AND event_timestamp <= $%d", len(args))
	}

	if q.ProcessName != "" {
		args = append(args, q.ProcessName)
		fmt.Fprintf(&sb, " AND process_name = $%d", len(args))
	}

	if q.EventStatus != "" {
		args = append(args, string(q.EventStatus))
		fmt.Fprintf(&sb, " AND event_status = $%d", len(args))
	}

	args = append(args, page.PageSize, page.Offset())
	fmt.Fprintf(&sb, " ORDER BY event_timestamp DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryPagedEvents(ctx, sb.String(), args, page)
}

// GetByBatchID returns one page of a batch's events ordered by
// event_timestamp ascending, plus batch-wide counters.
func (s *EventStore) GetByBatchID(
	ctx context.Context,
	batchID string,
	page event.PageRequest,
) (*event.BatchResult, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	page = page.Normalize()

	query := `SELECT ` + selectColumns + `, COUNT(*) OVER() AS total_count
		 FROM events
		WHERE batch_id = $1 AND is_deleted = FALSE
		ORDER BY event_timestamp ASC
		LIMIT $2 OFFSET $3`

	paged, err := s.queryPagedEvents(ctx, query, []interface{}{batchID, page.PageSize, page.Offset()}, page)
	if err != nil {
		return nil, err
	}

	result := &event.BatchResult{PagedEvents: *paged}

	err = s.conn.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT correlation_id),
		        COUNT(*) FILTER (WHERE event_status = 'SUCCESS'),
		        COUNT(*) FILTER (WHERE event_status = 'FAILURE')
		   FROM events
		  WHERE batch_id = $1 AND is_deleted = FALSE`,
		batchID,
	).Scan(&result.UniqueCorrelationIDs, &result.SuccessCount, &result.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("%w: batch aggregates: %w", ErrQueryFailed, err)
	}

	return result, nil
}

// GetBatchSummary aggregates a batch by process instance. A correlation
// counts as failed once it carries any FAILURE event, as completed once it
// carries a successful PROCESS_END and no failure, and as in progress
// otherwise.
func (s *EventStore) GetBatchSummary(ctx context.Context, batchID string) (*event.BatchSummary, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	rows, err := s.conn.db.QueryContext(ctx,
		`SELECT correlation_id,
		        BOOL_OR(event_type = 'PROCESS_END' AND event_status = 'SUCCESS') AS completed,
		        BOOL_OR(event_status = 'FAILURE') AS failed,
		        MIN(event_timestamp),
		        MAX(event_timestamp)
		   FROM events
		  WHERE batch_id = $1 AND is_deleted = FALSE
		  GROUP BY correlation_id
		  ORDER BY correlation_id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: batch summary: %w", ErrQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	summary := &event.BatchSummary{BatchID: batchID}

	for rows.Next() {
		var (
			correlationID     string
			completed, failed bool
			first, last       time.Time
		)

		if err := rows.Scan(&correlationID, &completed, &failed, &first, &last); err != nil {
			return nil, fmt.Errorf("%w: batch summary scan: %w", ErrQueryFailed, err)
		}

		summary.TotalProcesses++
		summary.CorrelationIDs = append(summary.CorrelationIDs, correlationID)

		switch {
		case failed:
			summary.Failed++
		case completed:
			summary.Completed++
		default:
			summary.InProgress++
		}

		if summary.FirstEventAt.IsZero() || first.Before(summary.FirstEventAt) {
			summary.FirstEventAt = first
		}

		if last.After(summary.LastEventAt) {
			summary.LastEventAt = last
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: batch summary: %w", ErrQueryFailed, err)
	}

	return summary, nil
}

// queryEvents runs a select over the event columns and scans all rows.
func (s *EventStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]event.Event, error) {
	rows, err := s.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]event.Event, 0)

	for rows.Next() {
		ev, err := scanEvent(rows, false)
		if err != nil {
			return nil, err
		}

		events = append(events, *ev.Event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return events, nil
}

// queryPagedEvents runs a select carrying a trailing COUNT(*) OVER() column
// and assembles the page.
func (s *EventStore) queryPagedEvents(
	ctx context.Context,
	query string,
	args []interface{},
	page event.PageRequest,
) (*event.PagedEvents, error) {
	rows, err := s.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	result := &event.PagedEvents{
		Events:   make([]event.Event, 0, page.PageSize),
		Page:     page.Page,
		PageSize: page.PageSize,
	}

	for rows.Next() {
		ev, err := scanEvent(rows, true)
		if err != nil {
			return nil, err
		}

		result.TotalCount = ev.totalCount
		result.Events = append(result.Events, *ev.Event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	// A page beyond the end has no rows to carry the window count; fetch it
	// so the response still reports the correct total.
	if len(result.Events) == 0 && page.Page > 1 {
		// TotalCount stays zero if the whole result set is empty.
		countQuery := "SELECT COUNT(*) FROM (" + stripPagination(query) + ") AS q"

		countArgs := args[:len(args)-2] // drop LIMIT and OFFSET arguments
		if err := s.conn.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&result.TotalCount); err != nil {
			return nil, fmt.Errorf("%w: count: %w", ErrQueryFailed, err)
		}
	}

	return result, nil
}

// stripPagination removes the trailing ORDER BY / LIMIT / OFFSET clause so
// the query can be wrapped in a COUNT.
func stripPagination(query string) string {
	idx := strings.LastIndex(query, "ORDER BY")
	if idx == -1 {
		return query
	}

	return query[:idx]
}

type scannedEvent struct {
	*event.Event
	totalCount int64
}

// scanEvent scans one row in selectColumns order, optionally with the
// trailing window count.
func scanEvent(rows *sql.Rows, withCount bool) (*scannedEvent, error) {
	var (
		ev event.Event

		spanID, parentSpanID, accountID, batchID   sql.NullString
		stepName, result, endpoint, httpMethod     sql.NullString
		requestPayload, responsePayload            sql.NullString
		errorCode, errorMessage, idempotencyKey    sql.NullString
		spanLinks, identifiers, metadata           []byte
		httpStatusCode                             sql.NullInt64
		totalCount                                 int64
	)

	dest := []interface{}{
		&ev.ExecutionID, &ev.CorrelationID, &ev.TraceID, &spanID, &parentSpanID,
		&spanLinks, &accountID, &batchID, &ev.ApplicationID, &ev.OriginatingSystem,
		&ev.TargetSystem, &ev.ProcessName, &ev.StepSequence, &stepName, &ev.EventType,
		&ev.EventStatus, &identifiers, &metadata, &ev.Summary, &result, &ev.EventTimestamp,
		&endpoint, &httpMethod, &httpStatusCode, &requestPayload, &responsePayload,
		&errorCode, &errorMessage, &ev.ExecutionTimeMs, &idempotencyKey,
	}

	if withCount {
		dest = append(dest, &totalCount)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrQueryFailed, err)
	}

	ev.SpanID = spanID.String
	ev.ParentSpanID = parentSpanID.String
	ev.AccountID = accountID.String
	ev.BatchID = batchID.String
	ev.StepName = stepName.String
	ev.Result = result.String
	ev.Endpoint = endpoint.String
	ev.HTTPMethod = event.HTTPMethod(httpMethod.String)
	ev.HTTPStatusCode = int(httpStatusCode.Int64)
	ev.RequestPayload = requestPayload.String
	ev.ResponsePayload = responsePayload.String
	ev.ErrorCode = errorCode.String
	ev.ErrorMessage = errorMessage.String
	ev.IdempotencyKey = idempotencyKey.String
	ev.EventTimestamp = ev.EventTimestamp.UTC()

	if len(spanLinks) > 0 {
		if err := json.Unmarshal(spanLinks, &ev.SpanLinks); err != nil {
			return nil, fmt.Errorf("%w: unmarshal span_links: %w", ErrQueryFailed, err)
		}
	}

	if len(identifiers) > 0 {
		if err := json.Unmarshal(identifiers, &ev.Identifiers); err != nil {
			return nil, fmt.Errorf("%w: unmarshal identifiers: %w", ErrQueryFailed, err)
		}
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal metadata: %w", ErrQueryFailed, err)
		}
	}

	return &scannedEvent{Event: &ev, totalCount: totalCount}, nil
}
