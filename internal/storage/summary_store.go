package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/procpulse-io/procpulse/internal/event"
)

// ErrSummaryStoreFailed is returned when an account summary read fails.
var ErrSummaryStoreFailed = errors.New("account summary read failed")

// GetAccountSummary returns the materialized per-account aggregate.
// Summaries are populated by an external process and may be stale or absent;
// an absent row surfaces as ErrNotFound.
func (s *EventStore) GetAccountSummary(ctx context.Context, accountID string) (*event.AccountTimelineSummary, error) {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	var (
		summary                  event.AccountTimelineSummary
		systemsTouched           []byte
		recentCorrelationIDs     []byte
	)

	err := s.conn.db.QueryRowContext(ctx,
		`SELECT account_id, first_event_at, last_event_at, total_events,
		        total_processes, failure_count, systems_touched,
		        recent_correlation_ids, updated_at
		   FROM account_timeline_summary
		  WHERE account_id = $1`,
		accountID,
	).Scan(
		&summary.AccountID,
		&summary.FirstEventAt,
		&summary.LastEventAt,
		&summary.TotalEvents,
		&summary.TotalProcesses,
		&summary.FailureCount,
		&systemsTouched,
		&recentCorrelationIDs,
		&summary.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account summary %q", ErrNotFound, accountID)
		}

		return nil, fmt.Errorf("%w: %w", ErrSummaryStoreFailed, err)
	}

	if len(systemsTouched) > 0 {
		if err := json.Unmarshal(systemsTouched, &summary.SystemsTouched); err != nil {
			return nil, fmt.Errorf("%w: unmarshal systems_touched: %w", ErrSummaryStoreFailed, err)
		}
	}

	if len(recentCorrelationIDs) > 0 {
		if err := json.Unmarshal(recentCorrelationIDs, &summary.RecentCorrelationIDs); err != nil {
			return nil, fmt.Errorf("%w: unmarshal recent_correlation_ids: %w", ErrSummaryStoreFailed, err)
		}
	}

	summary.FirstEventAt = summary.FirstEventAt.UTC()
	summary.LastEventAt = summary.LastEventAt.UTC()
	summary.UpdatedAt = summary.UpdatedAt.UTC()

	return &summary, nil
}
