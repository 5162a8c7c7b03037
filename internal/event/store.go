package event

import (
	"context"
	"time"
)

// Pagination defaults. Requests above MaxPageSize are clamped, not rejected.
const (
	DefaultPage     = 1
	DefaultPageSize = 200
	MaxPageSize     = 500
)

type (
	// InsertError reports one failed row of a batch insert by input position.
	// Conflict marks rows rejected by a unique index other than the
	// idempotency probe; the API maps those to 409.
	InsertError struct {
		Index    int    `json:"index"`
		Message  string `json:"error"`
		Conflict bool   `json:"-"`
	}

	// BatchInsertResult is the outcome of a batch insert. ExecutionIDs is
	// always the same length as the input and in input order; rows that hit
	// an idempotency key echo the previously stored id, rows that failed
	// per-row carry an empty string at their index and an InsertError entry.
	BatchInsertResult struct {
		ExecutionIDs []string
		Errors       []InsertError
	}

	// PageRequest carries pagination parameters through the query paths.
	PageRequest struct {
		Page     int
		PageSize int
	}

	// PagedEvents is one page of events plus the window-function total.
	PagedEvents struct {
		Events     []Event
		TotalCount int64
		Page       int
		PageSize   int
	}

	// CorrelationResult is the full event list for one correlation id plus
	// its late-bound account link, if any.
	CorrelationResult struct {
		Events []Event
		Link   *CorrelationLink
	}

	// TraceResult is the event list for one trace id with SQL-computed
	// aggregates.
	TraceResult struct {
		Events          []Event
		SystemsInvolved []string
		TotalDurationMs int64
	}

	// AccountQuery filters the per-account event timeline. IncludeLinked
	// widens the match to correlations bound to the account via a
	// correlation link.
	AccountQuery struct {
		AccountID     string
		StartDate     *time.Time
		EndDate       *time.Time
		ProcessName   string
		EventStatus   Status
		IncludeLinked bool
		Page          PageRequest
	}

	// BatchResult is one page of a batch's events plus batch-wide counters.
	BatchResult struct {
		PagedEvents
		UniqueCorrelationIDs int64
		SuccessCount         int64
		FailureCount         int64
	}

	// BatchSummary aggregates a batch by process instance rather than by
	// event. A correlation counts as completed once it has a PROCESS_END
	// with SUCCESS, failed once it has any FAILURE, in progress otherwise.
	BatchSummary struct {
		BatchID        string
		TotalProcesses int64
		Completed      int64
		Failed         int64
		InProgress     int64
		CorrelationIDs []string
		FirstEventAt   time.Time
		LastEventAt    time.Time
	}

	// SearchQuery is a case-insensitive text search over summary and result.
	SearchQuery struct {
		Query string
		Page  PageRequest
	}

	// Store persists events. Implementations must be safe for concurrent use.
	Store interface {
		// InsertBatch stores events inside a single transaction with
		// idempotency deduplication and per-row error fallback. An empty
		// input returns an empty result without opening a transaction.
		InsertBatch(ctx context.Context, events []*Event) (*BatchInsertResult, error)
	}

	// QueryStore answers the indexed read paths. All implementations filter
	// out soft-deleted rows.
	QueryStore interface {
		// GetByCorrelationID returns events ordered by
		// (step_sequence, event_timestamp) ascending.
		GetByCorrelationID(ctx context.Context, correlationID string) (*CorrelationResult, error)

		// GetByTraceID returns events ordered by event_timestamp ascending.
		GetByTraceID(ctx context.Context, traceID string) (*TraceResult, error)

		// GetByAccount returns a page ordered by event_timestamp descending.
		GetByAccount(ctx context.Context, q AccountQuery) (*PagedEvents, error)

		// GetByBatchID returns a page ordered by event_timestamp ascending
		// plus batch-wide aggregates.
		GetByBatchID(ctx context.Context, batchID string, page PageRequest) (*BatchResult, error)

		// GetBatchSummary aggregates a batch by correlation.
		GetBatchSummary(ctx context.Context, batchID string) (*BatchSummary, error)

		// Search matches summary and result text, paginated.
		Search(ctx context.Context, q SearchQuery) (*PagedEvents, error)
	}

	// LinkStore owns the correlation to account bindings.
	LinkStore interface {
		// UpsertLink binds a correlation id to an account. Re-binding the
		// same correlation id is an idempotent upsert.
		UpsertLink(ctx context.Context, link *CorrelationLink) error

		// GetLink returns the link for a correlation id, or a not-found
		// error when none exists.
		GetLink(ctx context.Context, correlationID string) (*CorrelationLink, error)
	}

	// DefinitionStore reads and seeds the process-definition catalog.
	DefinitionStore interface {
		UpsertDefinition(ctx context.Context, def *ProcessDefinition) error
		GetDefinition(ctx context.Context, processName string) (*ProcessDefinition, error)
		ListDefinitions(ctx context.Context) ([]ProcessDefinition, error)
	}

	// SummaryStore reads per-account materialized aggregates. Population is
	// external; reads may be stale or absent.
	SummaryStore interface {
		GetAccountSummary(ctx context.Context, accountID string) (*AccountTimelineSummary, error)
	}
)

// Normalize applies defaults and clamps the page size.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}

	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}

	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}

	return p
}

// Offset returns the SQL offset for the normalized request.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// HasMore reports whether pages remain beyond this one.
func (pe *PagedEvents) HasMore() bool {
	return int64(pe.Page)*int64(pe.PageSize) < pe.TotalCount
}

// Failed reports whether the batch had any per-row failures.
func (r *BatchInsertResult) Failed() bool {
	return len(r.Errors) > 0
}
