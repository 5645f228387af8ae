// internal/webhooks/dispatcher.go
package webhooks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/temmyjay001/payments-core/internal/payments"
	"github.com/temmyjay001/payments-core/internal/reconciliation"
	"github.com/temmyjay001/payments-core/internal/splits"
)

// StateUpdater applies gateway state to local payments. Both calls are
// idempotent upserts.
type StateUpdater interface {
	ApplyPaymentStatus(ctx context.Context, u payments.PaymentUpdate) (*payments.Record, error)
	ApplySubscriptionStatus(ctx context.Context, u payments.SubscriptionUpdate) (*payments.Record, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, paymentRef string) (*reconciliation.Result, error)
}

// HandlerFunc applies one event. It must be safe to call again with the same
// envelope.
type HandlerFunc func(ctx context.Context, env *Envelope) error

type Dispatcher struct {
	handlers   map[string]HandlerFunc
	updater    StateUpdater
	reconciler Reconciler
}

func NewDispatcher(updater StateUpdater, reconciler Reconciler) *Dispatcher {
	d := &Dispatcher{updater: updater, reconciler: reconciler}
	d.handlers = map[string]HandlerFunc{
		EventPaymentCreated:     d.paymentStatus(""),
		EventPaymentUpdated:     d.paymentStatus(""),
		EventPaymentConfirmed:   d.settled(payments.StatusConfirmed),
		EventPaymentReceived:    d.settled(payments.StatusReceived),
		EventPaymentOverdue:     d.paymentStatus(payments.StatusOverdue),
		EventPaymentRefunded:    d.paymentStatus(payments.StatusRefunded),
		EventPaymentDeleted:     d.paymentStatus(payments.StatusDeleted),
		EventPaymentFailed:      d.paymentStatus(payments.StatusFailed),
		EventPaymentCardRefused: d.paymentStatus(payments.StatusFailed),
		EventPaymentExpired:     d.paymentStatus(payments.StatusExpired),
		EventPixExpired:         d.paymentStatus(payments.StatusExpired),

		EventSubscriptionCreated:  d.subscriptionStatus(""),
		EventSubscriptionUpdated:  d.subscriptionStatus(""),
		EventSubscriptionInactive: d.subscriptionStatus(payments.StatusInactive),
		EventSubscriptionDeleted:  d.subscriptionStatus(payments.StatusCanceled),
		EventSubscriptionCanceled: d.subscriptionStatus(payments.StatusCanceled),
	}
	return d
}

// Handles reports whether eventType has a registered handler.
func (d *Dispatcher) Handles(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

// Dispatch routes env to its handler. Unknown kinds are logged and succeed.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) error {
	handler, ok := d.handlers[env.Event]
	if !ok {
		log.Printf("No handler for webhook event type %s, ignoring", env.Event)
		return nil
	}
	return handler(ctx, env)
}

// paymentStatus records the payment at status, or at the status carried by
// the payload when status is empty.
func (d *Dispatcher) paymentStatus(status string) HandlerFunc {
	return func(ctx context.Context, env *Envelope) error {
		_, err := d.applyPayment(ctx, env, status)
		return err
	}
}

// settled records a paid payment and reconciles it. A discrepancy is a
// recorded outcome, not a handler failure.
func (d *Dispatcher) settled(status string) HandlerFunc {
	return func(ctx context.Context, env *Envelope) error {
		rec, err := d.applyPayment(ctx, env, status)
		if err != nil {
			return err
		}
		if d.reconciler == nil {
			return nil
		}

		result, err := d.reconciler.Reconcile(ctx, rec.Ref)
		if err != nil {
			return fmt.Errorf("failed to reconcile payment %s: %w", rec.Ref, err)
		}
		if !result.Reconciled {
			log.Printf("Payment %s settled with a discrepancy of %d cents", rec.Ref, result.DiscrepancyCents)
		}
		return nil
	}
}

func (d *Dispatcher) applyPayment(ctx context.Context, env *Envelope, status string) (*payments.Record, error) {
	p := env.Payment
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("%w: %s without payment", ErrMissingResource, env.Event)
	}
	if status == "" {
		status = payments.NormalizeStatus(p.Status)
	}

	amount, err := splits.ToCents(p.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid payment value: %w", err)
	}

	return d.updater.ApplyPaymentStatus(ctx, payments.PaymentUpdate{
		Ref:             p.ID,
		SubscriptionRef: p.Subscription,
		CustomerRef:     p.Customer,
		AmountCents:     amount,
		Status:          status,
		OccurredAt:      settledAt(p, env),
	})
}

func (d *Dispatcher) subscriptionStatus(status string) HandlerFunc {
	return func(ctx context.Context, env *Envelope) error {
		sub := env.Subscription
		if sub == nil || sub.ID == "" {
			return fmt.Errorf("%w: %s without subscription", ErrMissingResource, env.Event)
		}
		next := status
		if next == "" {
			next = payments.NormalizeStatus(sub.Status)
			if sub.Deleted {
				next = payments.StatusCanceled
			}
		}

		amount, err := splits.ToCents(sub.Value)
		if err != nil {
			return fmt.Errorf("invalid subscription value: %w", err)
		}

		_, err = d.updater.ApplySubscriptionStatus(ctx, payments.SubscriptionUpdate{
			Ref:         sub.ID,
			CustomerRef: sub.Customer,
			AmountCents: amount,
			Status:      next,
		})
		return err
	}
}

// settledAt picks the gateway's confirmation date, falling back to the event date.
func settledAt(p *PaymentPayload, env *Envelope) time.Time {
	for _, v := range []string{p.ConfirmedDate, p.PaymentDate, env.DateCreated} {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
