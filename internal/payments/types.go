package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/temmyjay001/payments-core/internal/splits"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrMissingRef      = errors.New("payment reference is required")
)

type Kind string

const (
	KindPayment      Kind = "payment"
	KindSubscription Kind = "subscription"
)

// Local payment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusReceived  = "received"
	StatusOverdue   = "overdue"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
	StatusRefunded  = "refunded"
	StatusDeleted   = "deleted"

	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusCanceled = "canceled"
)

// statusRank orders payment statuses so late or replayed events never move a
// payment backwards.
var statusRank = map[string]int{
	StatusPending:   0,
	StatusOverdue:   1,
	StatusFailed:    1,
	StatusExpired:   1,
	StatusConfirmed: 2,
	StatusReceived:  3,
	StatusRefunded:  4,
	StatusDeleted:   4,
}

// Record is the local view of a gateway payment or subscription.
type Record struct {
	Ref             string          `json:"payment_ref"`
	Kind            Kind            `json:"kind"`
	SubscriptionRef string          `json:"subscription_ref,omitempty"`
	CustomerRef     string          `json:"customer_ref"`
	Category        splits.Category `json:"category"`
	AmountCents     int64           `json:"amount_cents"`
	Status          string          `json:"status"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PaymentUpdate is a payment state change reported by the gateway.
type PaymentUpdate struct {
	Ref             string
	SubscriptionRef string
	CustomerRef     string
	AmountCents     int64
	Status          string
	OccurredAt      time.Time
}

type SubscriptionUpdate struct {
	Ref         string
	CustomerRef string
	AmountCents int64
	Status      string
}

type CreateCustomerRequest struct {
	Name              string `json:"name" validate:"required,min=2,max=200"`
	CpfCnpj           string `json:"cpf_cnpj" validate:"required,numeric,min=11,max=14"`
	Email             string `json:"email" validate:"omitempty,email"`
	Phone             string `json:"phone,omitempty" validate:"omitempty,max=20"`
	ExternalReference string `json:"external_reference,omitempty" validate:"omitempty,max=100"`
}

type CreatePaymentRequest struct {
	CustomerRef     string          `json:"customer_ref" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required,dgt=0,dlte=10000000000000"`
	BillingType     string          `json:"billing_type" validate:"required,oneof=PIX BOLETO CREDIT_CARD UNDEFINED"`
	DueDate         string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	Description     string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Category        string          `json:"category,omitempty" validate:"omitempty,oneof=membership services events advertising other"`
	ReferralCode    string          `json:"referral_code,omitempty" validate:"omitempty,max=64"`
	CreditCardToken string          `json:"credit_card_token,omitempty"`
	RemoteIP        string          `json:"remote_ip,omitempty" validate:"omitempty,ip"`
}

type CreateSubscriptionRequest struct {
	CustomerRef     string          `json:"customer_ref" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required,dgt=0,dlte=10000000000000"`
	BillingType     string          `json:"billing_type" validate:"required,oneof=PIX BOLETO CREDIT_CARD UNDEFINED"`
	Cycle           string          `json:"cycle" validate:"required,oneof=MONTHLY QUARTERLY SEMIANNUALLY YEARLY"`
	NextDueDate     string          `json:"next_due_date" validate:"required,datetime=2006-01-02"`
	Description     string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Category        string          `json:"category,omitempty" validate:"omitempty,oneof=membership services events advertising other"`
	ReferralCode    string          `json:"referral_code,omitempty" validate:"omitempty,max=64"`
	CreditCardToken string          `json:"credit_card_token,omitempty"`
}

type TokenizeCardRequest struct {
	CustomerRef string `json:"customer_ref" validate:"required"`
	HolderName  string `json:"holder_name" validate:"required"`
	Number      string `json:"number" validate:"required,numeric,min=13,max=19"`
	ExpiryMonth string `json:"expiry_month" validate:"required,len=2,numeric"`
	ExpiryYear  string `json:"expiry_year" validate:"required,len=4,numeric"`
	CCV         string `json:"ccv" validate:"required,min=3,max=4,numeric"`

	HolderEmail         string `json:"holder_email" validate:"required,email"`
	HolderCpfCnpj       string `json:"holder_cpf_cnpj" validate:"required,numeric,min=11,max=14"`
	HolderPostalCode    string `json:"holder_postal_code" validate:"required"`
	HolderAddressNumber string `json:"holder_address_number" validate:"required"`
	HolderPhone         string `json:"holder_phone" validate:"required"`
	RemoteIP            string `json:"remote_ip" validate:"required,ip"`
}

type CustomerResponse struct {
	CustomerRef string `json:"customer_ref"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
}

type PaymentResponse struct {
	PaymentRef string                `json:"payment_ref"`
	Kind       Kind                  `json:"kind"`
	Status     string                `json:"status"`
	Amount     decimal.Decimal       `json:"amount"`
	InvoiceURL string                `json:"invoice_url,omitempty"`
	Split      *splits.Configuration `json:"split"`
	Warnings   []splits.Warning      `json:"warnings,omitempty"`
}

type CardTokenResponse struct {
	Token      string `json:"token"`
	Brand      string `json:"brand"`
	LastDigits string `json:"last_digits"`
}

type PaymentDetailResponse struct {
	Record
	Splits []splits.Transaction `json:"splits"`
}
