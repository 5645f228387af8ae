package reconciliation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrResultNotFound = errors.New("reconciliation result not found")

// Result is one comparison of local split totals against the gateway. Later
// runs add new rows; they never overwrite earlier ones.
type Result struct {
	ID               uuid.UUID `json:"id"`
	PaymentRef       string    `json:"payment_ref"`
	LocalTotalCents  int64     `json:"local_total_cents"`
	RemoteTotalCents int64     `json:"remote_total_cents"`
	DiscrepancyCents int64     `json:"discrepancy_cents"`
	Reconciled       bool      `json:"reconciled"`
	RemoteStatus     string    `json:"remote_status"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Filter selects the payments of a batch run. Explicit refs win over the
// date window.
type Filter struct {
	PaymentRefs []string   `json:"payment_refs,omitempty" validate:"omitempty,max=1000,dive,required"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Limit       int        `json:"limit,omitempty" validate:"omitempty,min=1,max=5000"`
}

type BatchError struct {
	PaymentRef string `json:"payment_ref"`
	Error      string `json:"error"`
}

type BatchStats struct {
	Total      int          `json:"total"`
	Reconciled int          `json:"reconciled"`
	Discrepant int          `json:"discrepant"`
	Errored    int          `json:"errored"`
	Errors     []BatchError `json:"errors,omitempty"`
}
