package splits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temmyjay001/payments-core/internal/storage"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessed  TransactionStatus = "processed"
	StatusDiscrepant TransactionStatus = "discrepant"
)

// Transaction is the locally recorded share of one recipient in one payment.
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	PaymentRef   string            `json:"payment_ref"`
	RecipientRef string            `json:"recipient_ref,omitempty"`
	Role         Role              `json:"role"`
	AmountCents  int64             `json:"amount_cents"`
	Status       TransactionStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Store persists split transactions. Writes are upserts keyed by (payment ref, role).
type Store interface {
	CreateTransactions(ctx context.Context, paymentRef string, recipients []Recipient) ([]Transaction, error)
	ListByPayment(ctx context.Context, paymentRef string) ([]Transaction, error)
	UpdateStatusByPayment(ctx context.Context, paymentRef string, status TransactionStatus) (int64, error)
	CopyTransactions(ctx context.Context, fromRef, toRef string) (int, error)
}

const (
	upsertTransactionSQL = `
INSERT INTO split_transactions (id, payment_ref, recipient_ref, role, amount_cents, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
ON CONFLICT (payment_ref, role) DO UPDATE SET payment_ref = EXCLUDED.payment_ref
RETURNING id, payment_ref, recipient_ref, role, amount_cents, status, created_at, updated_at`

	listTransactionsSQL = `
SELECT id, payment_ref, recipient_ref, role, amount_cents, status, created_at, updated_at
FROM split_transactions
WHERE payment_ref = $1
ORDER BY role`

	updateTransactionStatusSQL = `
UPDATE split_transactions
SET status = $2, updated_at = NOW()
WHERE payment_ref = $1`
)

type PostgresStore struct {
	db *storage.DB
}

func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateTransactions(ctx context.Context, paymentRef string, recipients []Recipient) ([]Transaction, error) {
	out := make([]Transaction, 0, len(recipients))
	for _, r := range recipients {
		if r.AmountCents < 0 {
			return nil, ErrNegativeAmount
		}
		row := s.db.QueryRow(ctx, upsertTransactionSQL, uuid.New(), paymentRef, r.Ref, string(r.Role), r.AmountCents)
		txn, err := scanTransaction(row)
		if err != nil {
			return nil, fmt.Errorf("failed to record split transaction for %s/%s: %w", paymentRef, r.Role, err)
		}
		out = append(out, txn)
	}
	return out, nil
}

func (s *PostgresStore) ListByPayment(ctx context.Context, paymentRef string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, listTransactionsSQL, paymentRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list split transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan split transaction: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateStatusByPayment(ctx context.Context, paymentRef string, status TransactionStatus) (int64, error) {
	tag, err := s.db.Exec(ctx, updateTransactionStatusSQL, paymentRef, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to update split transaction status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CopyTransactions records the split of fromRef (a subscription) under toRef
// (one of its installments). Existing rows for toRef are left untouched.
func (s *PostgresStore) CopyTransactions(ctx context.Context, fromRef, toRef string) (int, error) {
	source, err := s.ListByPayment(ctx, fromRef)
	if err != nil {
		return 0, err
	}

	recipients := make([]Recipient, 0, len(source))
	for _, txn := range source {
		recipients = append(recipients, Recipient{Ref: txn.RecipientRef, Role: txn.Role, AmountCents: txn.AmountCents})
	}

	created, err := s.CreateTransactions(ctx, toRef, recipients)
	if err != nil {
		return 0, err
	}
	return len(created), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var txn Transaction
	var role, status string
	err := row.Scan(&txn.ID, &txn.PaymentRef, &txn.RecipientRef, &role, &txn.AmountCents, &status, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	txn.Role = Role(role)
	txn.Status = TransactionStatus(status)
	return txn, nil
}

const resolveReferralSQL = `
SELECT referral_code, affiliate_id, COALESCE(wallet_id, ''), active
FROM affiliates
WHERE referral_code = $1`

// PostgresReferralStore resolves referral codes from the affiliates table.
type PostgresReferralStore struct {
	db *storage.DB
}

func NewPostgresReferralStore(db *storage.DB) *PostgresReferralStore {
	return &PostgresReferralStore{db: db}
}

func (s *PostgresReferralStore) ResolveReferral(ctx context.Context, code string) (*Referral, error) {
	var ref Referral
	err := s.db.QueryRow(ctx, resolveReferralSQL, code).Scan(&ref.Code, &ref.AffiliateID, &ref.WalletRef, &ref.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to resolve referral: %w", err)
	}
	return &ref, nil
}
