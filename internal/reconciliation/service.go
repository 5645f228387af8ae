// Package reconciliation compares locally recorded split totals with the
// gateway's record of each payment and reports mismatches.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/gateway"
	"github.com/temmyjay001/payments-core/internal/lock"
	"github.com/temmyjay001/payments-core/internal/metrics"
	"github.com/temmyjay001/payments-core/internal/notify"
	"github.com/temmyjay001/payments-core/internal/splits"
)

const (
	DefaultBatchLimit = 500
	batchLockKey      = "reconciliation:batch"
)

type Gateway interface {
	GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
}

// SplitLedger is the part of the split transaction store reconciliation reads
// and marks.
type SplitLedger interface {
	ListByPayment(ctx context.Context, paymentRef string) ([]splits.Transaction, error)
	UpdateStatusByPayment(ctx context.Context, paymentRef string, status splits.TransactionStatus) (int64, error)
}

type Service struct {
	gateway  Gateway
	splits   SplitLedger
	store    Store
	notifier notify.Notifier
	locker   lock.Locker

	tolerance   int64
	interval    time.Duration
	lookback    time.Duration
	concurrency int

	now func() time.Time
}

func NewService(cfg *config.Config, gw Gateway, splitLedger SplitLedger, store Store, notifier notify.Notifier, locker lock.Locker) *Service {
	concurrency := cfg.ReconciliationConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		gateway:     gw,
		splits:      splitLedger,
		store:       store,
		notifier:    notifier,
		locker:      locker,
		tolerance:   cfg.ReconciliationToleranceCents,
		interval:    cfg.ReconciliationInterval,
		lookback:    cfg.ReconciliationLookback,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Compare returns the absolute difference of the two totals and whether it is
// within tolerance.
func Compare(localCents, remoteCents, toleranceCents int64) (int64, bool) {
	diff := localCents - remoteCents
	if diff < 0 {
		diff = -diff
	}
	return diff, diff <= toleranceCents
}

// Reconcile fetches the gateway's payment, compares it with the local split
// total, records the result and marks the split transactions. Discrepancies
// are reported, never corrected.
func (s *Service) Reconcile(ctx context.Context, paymentRef string) (*Result, error) {
	remote, err := s.gateway.GetPayment(ctx, paymentRef)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fetch remote payment %s: %w", paymentRef, err)
	}

	remoteCents, err := splits.ToCents(remote.Value)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("invalid remote value for %s: %w", paymentRef, err)
	}

	txns, err := s.splits.ListByPayment(ctx, paymentRef)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	var localCents int64
	for _, txn := range txns {
		localCents += txn.AmountCents
	}

	discrepancy, reconciled := Compare(localCents, remoteCents, s.tolerance)
	result := &Result{
		ID:               uuid.New(),
		PaymentRef:       paymentRef,
		LocalTotalCents:  localCents,
		RemoteTotalCents: remoteCents,
		DiscrepancyCents: discrepancy,
		Reconciled:       reconciled,
		RemoteStatus:     remote.Status,
		ComputedAt:       s.now(),
	}

	if err := s.store.Save(ctx, result); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	status := splits.StatusProcessed
	if !reconciled {
		status = splits.StatusDiscrepant
	}
	if _, err := s.splits.UpdateStatusByPayment(ctx, paymentRef, status); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if reconciled {
		metrics.ReconciliationsTotal.WithLabelValues("reconciled").Inc()
		return result, nil
	}

	metrics.ReconciliationsTotal.WithLabelValues("discrepant").Inc()
	metrics.ReconciliationDiscrepancyCents.Observe(float64(discrepancy))
	log.Printf("Reconciliation discrepancy for payment %s: local=%d remote=%d diff=%d cents",
		paymentRef, localCents, remoteCents, discrepancy)

	alert := notify.Alert{
		Kind:    notify.KindReconciliationDiscrepancy,
		Subject: fmt.Sprintf("payment %s differs from the gateway by %d cents", paymentRef, discrepancy),
		Fields: map[string]any{
			"payment_ref":        paymentRef,
			"local_total_cents":  localCents,
			"remote_total_cents": remoteCents,
			"discrepancy_cents":  discrepancy,
			"remote_status":      remote.Status,
		},
		OccurredAt: result.ComputedAt,
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		// The persisted result is the record of the discrepancy.
		log.Printf("Failed to send discrepancy alert for %s: %v", paymentRef, err)
	}
	return result, nil
}

// ReconcileBatch reconciles the selected payments with bounded concurrency.
// Per-payment failures are counted, not returned.
func (s *Service) ReconcileBatch(ctx context.Context, f Filter) (*BatchStats, error) {
	refs, err := s.selectRefs(ctx, f)
	if err != nil {
		return nil, err
	}

	stats := &BatchStats{Total: len(refs)}
	if len(refs) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for _, ref := range refs {
		p.Go(func() {
			if ctx.Err() != nil {
				mu.Lock()
				stats.Errored++
				stats.Errors = append(stats.Errors, BatchError{PaymentRef: ref, Error: ctx.Err().Error()})
				mu.Unlock()
				return
			}

			result, err := s.Reconcile(ctx, ref)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Errored++
				stats.Errors = append(stats.Errors, BatchError{PaymentRef: ref, Error: err.Error()})
			case result.Reconciled:
				stats.Reconciled++
			default:
				stats.Discrepant++
			}
		})
	}
	p.Wait()

	log.Printf("Reconciliation batch: total=%d reconciled=%d discrepant=%d errored=%d",
		stats.Total, stats.Reconciled, stats.Discrepant, stats.Errored)
	return stats, nil
}

func (s *Service) selectRefs(ctx context.Context, f Filter) ([]string, error) {
	if len(f.PaymentRefs) > 0 {
		seen := make(map[string]struct{}, len(f.PaymentRefs))
		refs := make([]string, 0, len(f.PaymentRefs))
		for _, ref := range f.PaymentRefs {
			if _, ok := seen[ref]; ok || ref == "" {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
		return refs, nil
	}

	to := s.now()
	if f.To != nil {
		to = *f.To
	}
	from := to.Add(-s.lookback)
	if f.From != nil {
		from = *f.From
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("invalid window: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return s.store.ListCandidates(ctx, from, to, limit)
}

func (s *Service) LatestResult(ctx context.Context, paymentRef string) (*Result, error) {
	return s.store.Latest(ctx, paymentRef)
}

// StartWorker reconciles unreconciled payments from the lookback window every
// interval, on one instance at a time.
func (s *Service) StartWorker(ctx context.Context) {
	log.Printf("Starting reconciliation worker (every %s, lookback %s)...", s.interval, s.lookback)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation worker shutting down...")
			return
		case <-ticker.C:
			if _, err := s.RunScheduled(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Error running scheduled reconciliation: %v", err)
			}
		}
	}
}

// RunScheduled is one periodic batch behind the shared lock.
func (s *Service) RunScheduled(ctx context.Context) (*BatchStats, error) {
	release, err := s.locker.Acquire(ctx, batchLockKey, 2*s.interval)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.ReconcileBatch(ctx, Filter{})
}
