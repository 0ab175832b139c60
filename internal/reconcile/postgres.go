package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code raised by duplicate inserts.
const uniqueViolation = "23505"

// PGStore is the production Store backed by Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

func (s *PGStore) CreatePaymentRequest(ctx context.Context, pr PaymentRequest) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_requests (payment_request_id, order_id, amount_minor, currency, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		pr.PaymentRequestID, pr.OrderID, pr.AmountMinor, pr.Currency, string(pr.State), pr.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("reconcile: payment request %s already exists", pr.PaymentRequestID)
		}
		return err
	}
	return nil
}

func (s *PGStore) GetPaymentRequest(ctx context.Context, id string) (PaymentRequest, error) {
	var pr PaymentRequest
	var state string
	err := s.Pool.QueryRow(ctx, `
		SELECT payment_request_id, order_id, amount_minor, currency, state, created_at, updated_at
		FROM payment_requests WHERE payment_request_id = $1`, id).
		Scan(&pr.PaymentRequestID, &pr.OrderID, &pr.AmountMinor, &pr.Currency, &state, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRequest{}, ErrNotFound
		}
		return PaymentRequest{}, err
	}
	pr.State = State(state)
	return pr, nil
}

func (s *PGStore) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]PaymentRequest, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT payment_request_id, order_id, amount_minor, currency, state, created_at, updated_at
		FROM payment_requests
		WHERE state = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, string(StateCreated), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentRequest
	for rows.Next() {
		var pr PaymentRequest
		var state string
		if err := rows.Scan(&pr.PaymentRequestID, &pr.OrderID, &pr.AmountMinor, &pr.Currency, &state, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		pr.State = State(state)
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (s *PGStore) HasNotification(ctx context.Context, id, bodyHash string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_records
			WHERE payment_request_id = $1 AND body_hash = $2
		)`, id, bodyHash).Scan(&exists)
	return exists, err
}

func (s *PGStore) SaveNotification(ctx context.Context, rec NotificationRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notification_records (payment_request_id, result_code, body_hash, source, conflict, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_request_id, body_hash) DO NOTHING`,
		rec.PaymentRequestID, rec.ResultCode, rec.BodyHash, rec.Source, rec.Conflict, rec.ReceivedAt)
	return err
}

// TransitionState guards the update with the expected source state so the
// database itself enforces monotonicity even if the lock is bypassed.
func (s *PGStore) TransitionState(ctx context.Context, id string, from, to State, rec NotificationRecord) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE payment_requests SET state = $1, updated_at = $2
		WHERE payment_request_id = $3 AND state = $4`,
		string(to), rec.ReceivedAt, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s not in %s", ErrStaleState, id, from)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO notification_records (payment_request_id, result_code, body_hash, source, conflict, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_request_id, body_hash) DO NOTHING`,
		rec.PaymentRequestID, rec.ResultCode, rec.BodyHash, rec.Source, rec.Conflict, rec.ReceivedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) LastAppliedNotification(ctx context.Context, id string) (NotificationRecord, error) {
	var rec NotificationRecord
	err := s.Pool.QueryRow(ctx, `
		SELECT payment_request_id, result_code, body_hash, source, conflict, received_at
		FROM notification_records
		WHERE payment_request_id = $1 AND NOT conflict
		ORDER BY received_at DESC, id DESC
		LIMIT 1`, id).
		Scan(&rec.PaymentRequestID, &rec.ResultCode, &rec.BodyHash, &rec.Source, &rec.Conflict, &rec.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotificationRecord{}, ErrNotFound
		}
		return NotificationRecord{}, err
	}
	return rec, nil
}

func (s *PGStore) ListConflicts(ctx context.Context, limit int) ([]NotificationRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT payment_request_id, result_code, body_hash, source, conflict, received_at
		FROM notification_records
		WHERE conflict
		ORDER BY received_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		if err := rows.Scan(&rec.PaymentRequestID, &rec.ResultCode, &rec.BodyHash, &rec.Source, &rec.Conflict, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
