package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procpulse-io/procpulse/internal/event"
)

// ErrLinkStoreFailed is returned when a correlation link operation fails.
var ErrLinkStoreFailed = errors.New("correlation link storage failed")

// UpsertLink binds a correlation id to an account. The correlation-links
// table has at most one row per correlation id; re-binding overwrites the
// account fields and is idempotent, so producer retries are harmless.
func (s *EventStore) UpsertLink(ctx context.Context, link *event.CorrelationLink) error {
	if link == nil {
		return fmt.Errorf("%w: link cannot be nil", ErrLinkStoreFailed)
	}

	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	_, err := s.conn.db.ExecContext(ctx,
		`INSERT INTO correlation_links
			(correlation_id, account_id, application_id, customer_id, card_last4, linked_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (correlation_id) DO UPDATE SET
			account_id     = EXCLUDED.account_id,
			application_id = EXCLUDED.application_id,
			customer_id    = EXCLUDED.customer_id,
			card_last4     = EXCLUDED.card_last4,
			updated_at     = NOW()`,
		link.CorrelationID,
		link.AccountID,
		nullStr(link.ApplicationID),
		nullStr(link.CustomerID),
		nullStr(link.CardLast4),
	)
	if err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}

		return fmt.Errorf("%w: %w", ErrLinkStoreFailed, err)
	}

	return nil
}

// GetLink returns the account binding for a correlation id.
// Returns ErrNotFound when no link exists.
func (s *EventStore) GetLink(ctx context.Context, correlationID string) (*event.CorrelationLink, error) {
	var (
		link                                 event.CorrelationLink
		applicationID, customerID, cardLast4 sql.NullString
	)

	err := s.conn.db.QueryRowContext(ctx,
		`SELECT correlation_id, account_id, application_id, customer_id, card_last4, linked_at
		   FROM correlation_links
		  WHERE correlation_id = $1`,
		correlationID,
	).Scan(&link.CorrelationID, &link.AccountID, &applicationID, &customerID, &cardLast4, &link.LinkedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: correlation link %q", ErrNotFound, correlationID)
		}

		return nil, fmt.Errorf("%w: %w", ErrLinkStoreFailed, err)
	}

	link.ApplicationID = applicationID.String
	link.CustomerID = customerID.String
	link.CardLast4 = cardLast4.String
	link.LinkedAt = link.LinkedAt.UTC()

	return &link, nil
}
