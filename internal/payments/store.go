// internal/payments/store.go
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/temmyjay001/payments-core/internal/splits"
	"github.com/temmyjay001/payments-core/internal/storage"
)

// Store persists local payment state. Every write is an upsert keyed by the
// gateway reference, and neither write moves a payment to a lower-ranked
// status.
//
// Upsert is the webhook path: it keeps the category already on the row.
// RecordCreated is the create path: it owns category, kind and amount, which
// matters when the gateway's webhook wrote the row first.
type Store interface {
	Upsert(ctx context.Context, rec Record) (*Record, error)
	RecordCreated(ctx context.Context, rec Record) (*Record, error)
	Get(ctx context.Context, ref string) (*Record, error)
}

const (
	paymentColumns = `payment_ref, kind, COALESCE(subscription_ref, ''), customer_ref, category, amount_cents, status, confirmed_at, created_at, updated_at`

	rankedStatus = `CASE WHEN payment_status_rank(EXCLUDED.status) >= payment_status_rank(payments.status) THEN EXCLUDED.status ELSE payments.status END`

	upsertPaymentSQL = `
INSERT INTO payments (payment_ref, kind, subscription_ref, customer_ref, category, amount_cents, status, confirmed_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
ON CONFLICT (payment_ref) DO UPDATE SET
	subscription_ref = COALESCE(EXCLUDED.subscription_ref, payments.subscription_ref),
	customer_ref     = CASE WHEN EXCLUDED.customer_ref = '' THEN payments.customer_ref ELSE EXCLUDED.customer_ref END,
	amount_cents     = CASE WHEN EXCLUDED.amount_cents = 0 THEN payments.amount_cents ELSE EXCLUDED.amount_cents END,
	status           = ` + rankedStatus + `,
	confirmed_at     = COALESCE(payments.confirmed_at, EXCLUDED.confirmed_at),
	updated_at       = NOW()
RETURNING ` + paymentColumns

	recordCreatedSQL = `
INSERT INTO payments (payment_ref, kind, subscription_ref, customer_ref, category, amount_cents, status, confirmed_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
ON CONFLICT (payment_ref) DO UPDATE SET
	kind             = EXCLUDED.kind,
	subscription_ref = COALESCE(EXCLUDED.subscription_ref, payments.subscription_ref),
	customer_ref     = CASE WHEN EXCLUDED.customer_ref = '' THEN payments.customer_ref ELSE EXCLUDED.customer_ref END,
	category         = EXCLUDED.category,
	amount_cents     = EXCLUDED.amount_cents,
	status           = ` + rankedStatus + `,
	confirmed_at     = COALESCE(payments.confirmed_at, EXCLUDED.confirmed_at),
	updated_at       = NOW()
RETURNING ` + paymentColumns

	getPaymentSQL = `
SELECT ` + paymentColumns + `
FROM payments
WHERE payment_ref = $1`
)

type PostgresStore struct {
	db *storage.DB
}

func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) (*Record, error) {
	return s.write(ctx, upsertPaymentSQL, rec)
}

func (s *PostgresStore) RecordCreated(ctx context.Context, rec Record) (*Record, error) {
	return s.write(ctx, recordCreatedSQL, rec)
}

func (s *PostgresStore) write(ctx context.Context, query string, rec Record) (*Record, error) {
	if rec.Ref == "" {
		return nil, ErrMissingRef
	}
	if rec.Category == "" {
		rec.Category = splits.CategoryMembership
	}

	row := s.db.QueryRow(ctx, query,
		rec.Ref, string(rec.Kind), rec.SubscriptionRef, rec.CustomerRef,
		string(rec.Category), rec.AmountCents, rec.Status, rec.ConfirmedAt)
	out, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert payment %s: %w", rec.Ref, err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, ref string) (*Record, error) {
	out, err := scanRecord(s.db.QueryRow(ctx, getPaymentSQL, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var kind, category string
	err := row.Scan(&rec.Ref, &kind, &rec.SubscriptionRef, &rec.CustomerRef, &category,
		&rec.AmountCents, &rec.Status, &rec.ConfirmedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	rec.Category = splits.Category(category)
	return &rec, nil
}
