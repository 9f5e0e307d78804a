package orders

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/imrishuroy/go-payment-reconciler/internal/retry"
)

const selectOrder = `
	SELECT order_id, COALESCE(customer_email, ''), COALESCE(customer_name, ''), COALESCE(currency, ''),
	       payment_status, status, COALESCE(external_reference, ''), COALESCE(payment_account, ''),
	       COALESCE(payment_error, ''), created_at, updated_at
	FROM orders`

// PostgresStore implements Repository over database/sql with the pgx driver.
type PostgresStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		nowFunc: time.Now,
	}
}

func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.queryOne(ctx, selectOrder+` WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	o, err := s.queryOne(ctx, selectOrder+` WHERE external_reference = $1`, reference)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyTransition is a single conditional UPDATE; the WHERE clause on payment_status
// is the compare-and-swap.
func (s *PostgresStore) ApplyTransition(ctx context.Context, orderID string, expected PaymentStatus, t Transition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			payment_status = $2,
			status = COALESCE(NULLIF($3, ''), status),
			payment_error = CASE WHEN $4 <> '' THEN $4 WHEN $5 THEN NULL ELSE payment_error END,
			external_reference = COALESCE(external_reference, NULLIF($6, '')),
			payment_account = COALESCE(payment_account, NULLIF($7, '')),
			updated_at = $8
		WHERE order_id = $1 AND payment_status = $9`,
		orderID,
		string(t.PaymentStatus),
		string(t.Status),
		t.PaymentError,
		t.ClearPaymentError,
		t.ExternalReference,
		t.PaymentAccount,
		s.nowFunc().UTC(),
		string(expected),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update order %s: %w", orderID, ErrReferenceConflict)
		}
		return classifyPG("update order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classifyPG("rows affected", err)
	}
	if affected == 1 {
		return nil
	}

	exists, err := s.exists(ctx, orderID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusMismatch
}

func (s *PostgresStore) AttachReference(ctx context.Context, orderID, reference string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET external_reference = $2, updated_at = $3
		WHERE order_id = $1 AND (external_reference IS NULL OR external_reference = $2)`,
		orderID, reference, s.nowFunc().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attach reference %s: %w", reference, ErrReferenceConflict)
		}
		return classifyPG("attach reference", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classifyPG("rows affected", err)
	}
	if affected == 1 {
		return nil
	}

	exists, err := s.exists(ctx, orderID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrReferenceConflict
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, selectOrder+`
		WHERE payment_status = $1 AND external_reference IS NOT NULL
		ORDER BY created_at
		LIMIT $2`, string(PaymentPending), limit)
	if err != nil {
		return nil, classifyPG("list pending orders", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG("iterate pending orders", err)
	}
	return result, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, arg string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPG("get order", err)
	}
	return o, nil
}

func (s *PostgresStore) loadItems(ctx context.Context, o *Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_name, quantity, unit_price::text, COALESCE(line_total::text, '')
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.OrderID)
	if err != nil {
		return classifyPG("get order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (s *PostgresStore) exists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, classifyPG("check order exists", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o             Order
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.OrderID, &o.CustomerEmail, &o.CustomerName, &o.Currency,
		&paymentStatus, &status, &o.ExternalReference, &o.PaymentAccount,
		&o.PaymentError, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.Status = Status(status)
	return &o, nil
}

// classifyPG marks connection loss, serialization failures and deadlocks as transient.
func classifyPG(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if isTransientPG(err) {
		return retry.MarkTransient(wrapped)
	}
	return wrapped
}

// isUniqueViolation reports a 23505, raised when external_reference is already used by another order.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isTransientPG(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception class
			pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "53300": // too_many_connections
			return true
		}
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
