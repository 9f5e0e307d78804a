package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps claims in the dispatch_claims table.
type PostgresStore struct {
	db        *sql.DB
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

func NewPostgresStore(db *sql.DB, ttlWindow time.Duration) *PostgresStore {
	return &PostgresStore{
		db:        db,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *PostgresStore) Claim(ctx context.Context, key, orderID string) (bool, error) {
	now := s.nowFunc().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_claims (idempotency_key, status, order_id, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, StatusInProgress, orderID, now, now.Add(s.ttlWindow),
	)
	if err != nil {
		return false, fmt.Errorf("insert claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	var (
		rec       Record
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, status, COALESCE(order_id, ''), COALESCE(message_id, ''), COALESCE(note, ''),
		       created_at, updated_at, expires_at
		FROM dispatch_claims WHERE idempotency_key = $1`, key,
	).Scan(&rec.Key, &rec.Status, &rec.OrderID, &rec.MessageID, &rec.Note, &rec.CreatedAt, &rec.UpdatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time.Unix()
	}
	return &rec, nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, key, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_claims SET status = $2, message_id = $3, updated_at = $4 WHERE idempotency_key = $1`,
		key, StatusDone, messageID, s.nowFunc().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark claim done: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, key, note string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_claims SET status = $2, note = $3, updated_at = $4 WHERE idempotency_key = $1`,
		key, StatusFailed, note, s.nowFunc().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark claim failed: %w", err)
	}
	return nil
}
