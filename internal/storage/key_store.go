package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrKeyStoreFailed is returned when an API key storage operation fails.
var ErrKeyStoreFailed = errors.New("API key storage failed")

// APIKeyStore persists producer API keys. Keys are stored as a bcrypt hash
// plus an indexed SHA-256 lookup digest; the plaintext never touches the
// database.
type APIKeyStore struct {
	conn *Connection
}

// NewAPIKeyStore creates a PostgreSQL-backed API key store.
func NewAPIKeyStore(conn *Connection) (*APIKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &APIKeyStore{conn: conn}, nil
}

// Add hashes and stores a freshly generated key, returning its record.
func (s *APIKeyStore) Add(ctx context.Context, producer, apiKey string) (*Key, error) {
	if apiKey == "" {
		return nil, ErrKeyNil
	}

	if producer == "" {
		return nil, ErrProducerEmpty
	}

	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFailed, err)
	}

	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	key := &Key{
		ID:       uuid.NewString(),
		Producer: producer,
		Active:   true,
	}

	err = s.conn.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (id, producer, key_hash, lookup_digest, active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING created_at`,
		key.ID, producer, hash, LookupDigest(apiKey),
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFailed, err)
	}

	return key, nil
}

// Verify resolves a plaintext key to its stored record. The lookup digest
// narrows the candidate to one row; the bcrypt comparison then confirms it.
// Returns ErrKeyNotFound for unknown, inactive or expired keys.
func (s *APIKeyStore) Verify(ctx context.Context, apiKey string) (*Key, error) {
	if apiKey == "" {
		return nil, ErrKeyNil
	}

	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	var (
		key       Key
		hash      string
		expiresAt sql.NullTime
	)

	err := s.conn.db.QueryRowContext(ctx,
		`SELECT id, producer, key_hash, active, created_at, expires_at
		   FROM api_keys
		  WHERE lookup_digest = $1`,
		LookupDigest(apiKey),
	).Scan(&key.ID, &key.Producer, &hash, &key.Active, &key.CreatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrKeyStoreFailed, err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}

	if !key.Valid() || !CompareAPIKeyHash(hash, apiKey) {
		return nil, ErrKeyNotFound
	}

	return &key, nil
}

// Deactivate revokes a key by id.
func (s *APIKeyStore) Deactivate(ctx context.Context, keyID string) error {
	ctx, cancel := s.conn.RequestContext(ctx)
	defer cancel()

	res, err := s.conn.db.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyStoreFailed, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyStoreFailed, err)
	}

	if rows == 0 {
		return ErrKeyNotFound
	}

	return nil
}
