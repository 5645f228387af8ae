// internal/payments/service.go
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/temmyjay001/payments-core/internal/gateway"
	"github.com/temmyjay001/payments-core/internal/splits"
)

// Gateway is the subset of the gateway client the payment flows use.
type Gateway interface {
	CreateCustomer(ctx context.Context, req gateway.CustomerRequest) (*gateway.Customer, error)
	CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.Payment, error)
	CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (*gateway.Subscription, error)
	TokenizeCard(ctx context.Context, req gateway.TokenizeCardRequest) (*gateway.CardToken, error)
}

type SplitCalculator interface {
	ComputeSplit(ctx context.Context, total decimal.Decimal, category splits.Category, referralCode string) (*splits.Configuration, error)
}

type Service struct {
	gateway    Gateway
	calculator SplitCalculator
	payments   Store
	splits     splits.Store
	now        func() time.Time
}

func NewService(gw Gateway, calculator SplitCalculator, payments Store, splitStore splits.Store) *Service {
	return &Service{
		gateway:    gw,
		calculator: calculator,
		payments:   payments,
		splits:     splitStore,
		now:        time.Now,
	}
}

func (s *Service) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerResponse, error) {
	customer, err := s.gateway.CreateCustomer(ctx, gateway.CustomerRequest{
		Name:              req.Name,
		CpfCnpj:           req.CpfCnpj,
		Email:             req.Email,
		MobilePhone:       req.Phone,
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	log.Printf("Customer %s created", customer.ID)
	return &CustomerResponse{CustomerRef: customer.ID, Name: customer.Name, Email: customer.Email}, nil
}

// CreatePayment computes the split, creates the remote payment with its split
// entries, then records the split transactions and the local payment row.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResponse, error) {
	cfg, err := s.calculator.ComputeSplit(ctx, req.Amount, splits.Category(req.Category), req.ReferralCode)
	if err != nil {
		return nil, fmt.Errorf("failed to compute split: %w", err)
	}

	payment, err := s.gateway.CreatePayment(ctx, gateway.PaymentRequest{
		Customer:        req.CustomerRef,
		BillingType:     gateway.BillingType(req.BillingType),
		Value:           splits.CentsToDecimal(cfg.TotalCents),
		DueDate:         req.DueDate,
		Description:     req.Description,
		CreditCardToken: req.CreditCardToken,
		RemoteIP:        req.RemoteIP,
		Split:           cfg.GatewaySplits(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	saved, err := s.record(ctx, payment.ID, KindPayment, req.CustomerRef, cfg, NormalizeStatus(payment.Status))
	if err != nil {
		return nil, err
	}

	log.Printf("Payment %s created (%d cents, tier %s)", payment.ID, cfg.TotalCents, cfg.Tier)
	return &PaymentResponse{
		PaymentRef: payment.ID,
		Kind:       KindPayment,
		Status:     saved.Status,
		Amount:     splits.CentsToDecimal(cfg.TotalCents),
		InvoiceURL: payment.InvoiceURL,
		Split:      cfg,
		Warnings:   cfg.Warnings,
	}, nil
}

// CreateSubscription is CreatePayment for recurring charges. The recorded split
// becomes the template each installment inherits.
func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*PaymentResponse, error) {
	cfg, err := s.calculator.ComputeSplit(ctx, req.Amount, splits.Category(req.Category), req.ReferralCode)
	if err != nil {
		return nil, fmt.Errorf("failed to compute split: %w", err)
	}

	sub, err := s.gateway.CreateSubscription(ctx, gateway.SubscriptionRequest{
		Customer:        req.CustomerRef,
		BillingType:     gateway.BillingType(req.BillingType),
		Value:           splits.CentsToDecimal(cfg.TotalCents),
		NextDueDate:     req.NextDueDate,
		Cycle:           gateway.Cycle(req.Cycle),
		Description:     req.Description,
		CreditCardToken: req.CreditCardToken,
		Split:           cfg.GatewaySplits(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	saved, err := s.record(ctx, sub.ID, KindSubscription, req.CustomerRef, cfg, NormalizeStatus(sub.Status))
	if err != nil {
		return nil, err
	}

	log.Printf("Subscription %s created (%d cents per %s)", sub.ID, cfg.TotalCents, strings.ToLower(req.Cycle))
	return &PaymentResponse{
		PaymentRef: sub.ID,
		Kind:       KindSubscription,
		Status:     saved.Status,
		Amount:     splits.CentsToDecimal(cfg.TotalCents),
		Split:      cfg,
		Warnings:   cfg.Warnings,
	}, nil
}

// record persists the local side of a freshly created remote resource. The
// remote resource already exists at this point, so a failure here leaves a
// payment without local splits; reconciliation reports it as discrepant.
//
// The gateway may have delivered a webhook for the resource already. Split
// rows go first so a settled payment is never visible without them, and the
// row keeps whichever status is further along.
func (s *Service) record(ctx context.Context, ref string, kind Kind, customerRef string, cfg *splits.Configuration, status string) (*Record, error) {
	if _, err := s.splits.CreateTransactions(ctx, ref, cfg.Recipients); err != nil {
		log.Printf("Failed to record split transactions for %s: %v", ref, err)
		return nil, fmt.Errorf("failed to record split transactions: %w", err)
	}

	rec := Record{
		Ref:         ref,
		Kind:        kind,
		CustomerRef: customerRef,
		Category:    cfg.Category,
		AmountCents: cfg.TotalCents,
		Status:      status,
	}
	if IsSettled(status) {
		now := s.now()
		rec.ConfirmedAt = &now
	}
	saved, err := s.payments.RecordCreated(ctx, rec)
	if err != nil {
		log.Printf("Failed to record payment %s: %v", ref, err)
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	if saved.Status != status {
		log.Printf("Payment %s was already %s when its creation was recorded", ref, saved.Status)
	}
	return saved, nil
}

func (s *Service) TokenizeCard(ctx context.Context, req TokenizeCardRequest) (*CardTokenResponse, error) {
	token, err := s.gateway.TokenizeCard(ctx, gateway.TokenizeCardRequest{
		Customer: req.CustomerRef,
		CreditCard: gateway.CreditCard{
			HolderName:  req.HolderName,
			Number:      req.Number,
			ExpiryMonth: req.ExpiryMonth,
			ExpiryYear:  req.ExpiryYear,
			CCV:         req.CCV,
		},
		CreditCardHolderInfo: gateway.CreditCardHolderInfo{
			Name:          req.HolderName,
			Email:         req.HolderEmail,
			CpfCnpj:       req.HolderCpfCnpj,
			PostalCode:    req.HolderPostalCode,
			AddressNumber: req.HolderAddressNumber,
			Phone:         req.HolderPhone,
		},
		RemoteIP: req.RemoteIP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize card: %w", err)
	}

	return &CardTokenResponse{
		Token:      token.CreditCardToken,
		Brand:      token.CreditCardBrand,
		LastDigits: token.CreditCardNumber,
	}, nil
}

func (s *Service) GetPayment(ctx context.Context, ref string) (*PaymentDetailResponse, error) {
	rec, err := s.payments.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	txns, err := s.splits.ListByPayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []splits.Transaction{}
	}
	return &PaymentDetailResponse{Record: *rec, Splits: txns}, nil
}

// ApplyPaymentStatus records a payment state reported by the gateway. It is
// safe to call any number of times with the same update, and an update that
// would move the payment to an earlier state is ignored.
func (s *Service) ApplyPaymentStatus(ctx context.Context, u PaymentUpdate) (*Record, error) {
	if u.Ref == "" {
		return nil, ErrMissingRef
	}

	existing, err := s.payments.Get(ctx, u.Ref)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	if existing != nil && statusRank[u.Status] < statusRank[existing.Status] {
		log.Printf("Ignoring %s for payment %s already %s", u.Status, u.Ref, existing.Status)
		return existing, nil
	}

	rec := Record{
		Ref:             u.Ref,
		Kind:            KindPayment,
		SubscriptionRef: u.SubscriptionRef,
		CustomerRef:     u.CustomerRef,
		AmountCents:     u.AmountCents,
		Status:          u.Status,
	}
	switch {
	case existing != nil:
		rec.Category = existing.Category
	case u.SubscriptionRef != "":
		if sub, err := s.payments.Get(ctx, u.SubscriptionRef); err == nil {
			rec.Category = sub.Category
		}
	}
	if IsSettled(u.Status) {
		at := u.OccurredAt
		if at.IsZero() {
			at = s.now()
		}
		rec.ConfirmedAt = &at
	}

	saved, err := s.payments.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	// Installments inherit the subscription's split. The copy is an upsert, so
	// replays leave existing rows alone.
	if u.SubscriptionRef != "" {
		copied, err := s.splits.CopyTransactions(ctx, u.SubscriptionRef, u.Ref)
		if err != nil {
			return nil, fmt.Errorf("failed to copy subscription split: %w", err)
		}
		if copied > 0 && existing == nil {
			log.Printf("Installment %s inherited %d split transactions from %s", u.Ref, copied, u.SubscriptionRef)
		}
	}

	return saved, nil
}

func (s *Service) ApplySubscriptionStatus(ctx context.Context, u SubscriptionUpdate) (*Record, error) {
	if u.Ref == "" {
		return nil, ErrMissingRef
	}

	existing, err := s.payments.Get(ctx, u.Ref)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == StatusCanceled && u.Status != StatusCanceled {
		log.Printf("Ignoring %s for canceled subscription %s", u.Status, u.Ref)
		return existing, nil
	}

	rec := Record{
		Ref:         u.Ref,
		Kind:        KindSubscription,
		CustomerRef: u.CustomerRef,
		AmountCents: u.AmountCents,
		Status:      u.Status,
	}
	if existing != nil {
		rec.Category = existing.Category
	}
	return s.payments.Upsert(ctx, rec)
}

// NormalizeStatus maps a gateway status onto the local vocabulary.
func NormalizeStatus(remote string) string {
	switch strings.ToUpper(remote) {
	case "PENDING", "AWAITING_RISK_ANALYSIS", "":
		return StatusPending
	case "CONFIRMED":
		return StatusConfirmed
	case "RECEIVED", "RECEIVED_IN_CASH":
		return StatusReceived
	case "OVERDUE":
		return StatusOverdue
	case "REFUNDED", "REFUND_REQUESTED", "CHARGEBACK_REQUESTED":
		return StatusRefunded
	case "ACTIVE":
		return StatusActive
	case "INACTIVE":
		return StatusInactive
	case "EXPIRED":
		return StatusExpired
	}
	return strings.ToLower(remote)
}

// IsSettled reports whether the payment has been paid.
func IsSettled(status string) bool {
	return status == StatusConfirmed || status == StatusReceived
}
