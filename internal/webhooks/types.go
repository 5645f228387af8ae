// internal/webhooks/types.go
package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMalformedPayload  = errors.New("malformed webhook payload")
	ErrLedgerUnavailable = errors.New("webhook ledger unavailable")
	ErrEventNotFound     = errors.New("webhook event not found")
	ErrEventProcessed    = errors.New("webhook event already processed")
	ErrEventBusy         = errors.New("webhook event is being processed")
	ErrMissingResource   = errors.New("webhook event is missing its resource")
)

// Gateway event kinds handled by the dispatcher.
const (
	EventPaymentCreated       = "PAYMENT_CREATED"
	EventPaymentUpdated       = "PAYMENT_UPDATED"
	EventPaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventPaymentReceived      = "PAYMENT_RECEIVED"
	EventPaymentOverdue       = "PAYMENT_OVERDUE"
	EventPaymentRefunded      = "PAYMENT_REFUNDED"
	EventPaymentDeleted       = "PAYMENT_DELETED"
	EventPaymentFailed        = "PAYMENT_FAILED"
	EventPaymentCardRefused   = "PAYMENT_CREDIT_CARD_CAPTURE_REFUSED"
	EventPaymentExpired       = "PAYMENT_EXPIRED"
	EventPixExpired           = "PIX_EXPIRED"
	EventSubscriptionCreated  = "SUBSCRIPTION_CREATED"
	EventSubscriptionUpdated  = "SUBSCRIPTION_UPDATED"
	EventSubscriptionInactive = "SUBSCRIPTION_INACTIVATED"
	EventSubscriptionDeleted  = "SUBSCRIPTION_DELETED"
	EventSubscriptionCanceled = "SUBSCRIPTION_CANCELED"
)

// Envelope is the body the gateway posts to the webhook endpoint.
type Envelope struct {
	ID           string               `json:"id,omitempty"`
	Event        string               `json:"event"`
	DateCreated  string               `json:"dateCreated,omitempty"`
	Payment      *PaymentPayload      `json:"payment,omitempty"`
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
}

type PaymentPayload struct {
	ID            string          `json:"id"`
	Customer      string          `json:"customer"`
	Subscription  string          `json:"subscription,omitempty"`
	Status        string          `json:"status"`
	BillingType   string          `json:"billingType"`
	Value         decimal.Decimal `json:"value"`
	ConfirmedDate string          `json:"confirmedDate,omitempty"`
	PaymentDate   string          `json:"paymentDate,omitempty"`
}

type SubscriptionPayload struct {
	ID       string          `json:"id"`
	Customer string          `json:"customer"`
	Status   string          `json:"status"`
	Value    decimal.Decimal `json:"value"`
	Cycle    string          `json:"cycle,omitempty"`
	Deleted  bool            `json:"deleted,omitempty"`
}

// ParseEnvelope decodes a webhook body. The event kind is the only required field.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrMalformedPayload)
	}
	return &env, nil
}

// EventID returns the gateway event id, or a deterministic id derived from the
// event kind, the referenced resources and the creation timestamp.
func (e *Envelope) EventID() string {
	if e.ID != "" {
		return e.ID
	}

	var paymentID, subscriptionID string
	if e.Payment != nil {
		paymentID = e.Payment.ID
	}
	if e.Subscription != nil {
		subscriptionID = e.Subscription.ID
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{e.Event, paymentID, subscriptionID, e.DateCreated}, "|")))
	return "derived_" + hex.EncodeToString(sum[:16])
}

// Event is one row of the idempotency ledger.
type Event struct {
	ExternalID  string          `json:"external_event_id"`
	EventType   string          `json:"event_type"`
	RawPayload  json.RawMessage `json:"raw_payload"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	RetryCount  int             `json:"retry_count"`
	LastError   string          `json:"last_error,omitempty"`
	LockedUntil *time.Time      `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PermanentFailure records an event that exhausted its automatic retries.
type PermanentFailure struct {
	ID              uuid.UUID       `json:"id"`
	ExternalEventID string          `json:"external_event_id"`
	EventType       string          `json:"event_type"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	LastError       string          `json:"last_error,omitempty"`
	RetryCount      int             `json:"retry_count"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeFailed     Outcome = "failed"
	OutcomeEscalated  Outcome = "escalated"
)

type IngestResult struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"`
	Outcome    Outcome `json:"outcome"`
	RetryCount int     `json:"retry_count"`
	Error      string  `json:"error,omitempty"`
}

type SweepStats struct {
	Scanned   int `json:"scanned"`
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
}
