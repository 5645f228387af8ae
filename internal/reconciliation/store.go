package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temmyjay001/payments-core/internal/storage"
)

type Store interface {
	Save(ctx context.Context, r *Result) error
	Latest(ctx context.Context, paymentRef string) (*Result, error)
	// ListCandidates returns settled payments confirmed in [from, to) whose
	// latest result is missing or not reconciled.
	ListCandidates(ctx context.Context, from, to time.Time, limit int) ([]string, error)
}

const (
	insertResultSQL = `
INSERT INTO reconciliation_results
	(id, payment_ref, local_total_cents, remote_total_cents, discrepancy_cents, reconciled, remote_status, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	latestResultSQL = `
SELECT id, payment_ref, local_total_cents, remote_total_cents, discrepancy_cents, reconciled, remote_status, computed_at
FROM reconciliation_results
WHERE payment_ref = $1
ORDER BY computed_at DESC
LIMIT 1`

	listCandidatesSQL = `
SELECT p.payment_ref
FROM payments p
LEFT JOIN LATERAL (
	SELECT r.reconciled
	FROM reconciliation_results r
	WHERE r.payment_ref = p.payment_ref
	ORDER BY r.computed_at DESC
	LIMIT 1
) latest ON TRUE
WHERE p.kind = 'payment'
  AND p.status IN ('confirmed', 'received')
  AND p.confirmed_at >= $1 AND p.confirmed_at < $2
  AND (latest.reconciled IS NULL OR latest.reconciled = FALSE)
ORDER BY p.confirmed_at
LIMIT $3`
)

type PostgresStore struct {
	db *storage.DB
}

func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, r *Result) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, insertResultSQL, r.ID, r.PaymentRef, r.LocalTotalCents, r.RemoteTotalCents,
		r.DiscrepancyCents, r.Reconciled, r.RemoteStatus, r.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation result: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, paymentRef string) (*Result, error) {
	var r Result
	err := s.db.QueryRow(ctx, latestResultSQL, paymentRef).Scan(&r.ID, &r.PaymentRef, &r.LocalTotalCents,
		&r.RemoteTotalCents, &r.DiscrepancyCents, &r.Reconciled, &r.RemoteStatus, &r.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get reconciliation result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, from, to time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, listCandidatesSQL, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation candidates: %w", err)
	}
	defer rows.Close()

	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan reconciliation candidates: %w", err)
	}
	return refs, nil
}
