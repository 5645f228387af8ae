package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/lock"
	"github.com/temmyjay001/payments-core/internal/metrics"
	"github.com/temmyjay001/payments-core/internal/notify"
)

const (
	sweepLockKey = "webhooks:retry-sweep"
	maxErrorLen  = 2000

	// outcomeWriteTimeout bounds the ledger write that records a dispatch result.
	outcomeWriteTimeout = 10 * time.Second
	defaultLease        = 2 * time.Minute
)

type Service struct {
	ledger     Ledger
	dispatcher *Dispatcher
	notifier   notify.Notifier
	locker     lock.Locker

	maxRetries    int
	schedule      []time.Duration
	lease         time.Duration
	sweepInterval time.Duration
	batchSize     int

	now func() time.Time
}

func NewService(cfg *config.Config, ledger Ledger, dispatcher *Dispatcher, notifier notify.Notifier, locker lock.Locker) *Service {
	lease := cfg.WebhookProcessingLease
	if lease <= 0 {
		lease = defaultLease
	}
	return &Service{
		ledger:        ledger,
		dispatcher:    dispatcher,
		notifier:      notifier,
		locker:        locker,
		maxRetries:    cfg.WebhookMaxRetries,
		schedule:      cfg.WebhookBackoffSchedule,
		lease:         lease,
		sweepInterval: cfg.WebhookSweepInterval,
		batchSize:     cfg.WebhookBatchSize,
		now:           time.Now,
	}
}

// Ingest records a delivery in the ledger and dispatches it at most once.
//
// The returned error is non-nil only for a malformed body or when the ledger
// row itself could not be written. Handler failures are recorded on the row
// and reported in the result.
func (s *Service) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	id := env.EventID()
	inserted, err := s.ledger.InsertIfAbsent(ctx, Event{ExternalID: id, EventType: env.Event, RawPayload: raw})
	if err != nil {
		log.Printf("Failed to record webhook event %s: %v", id, err)
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	now := s.now()
	ev, err := s.ledger.Claim(ctx, id, now, now.Add(s.lease), s.maxRetries)
	if err != nil {
		log.Printf("Failed to claim webhook event %s: %v", id, err)
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if ev == nil {
		return s.unclaimed(ctx, id, env.Event)
	}

	if !inserted {
		log.Printf("Webhook event %s redelivered with %d recorded failures, dispatching again", id, ev.RetryCount)
	}
	return s.process(ctx, ev, env), nil
}

// unclaimed reports why a delivery was not dispatched.
func (s *Service) unclaimed(ctx context.Context, id, eventType string) (*IngestResult, error) {
	result := &IngestResult{EventID: id, EventType: eventType, Outcome: OutcomeInProgress}

	existing, err := s.ledger.Get(ctx, id)
	if err != nil {
		log.Printf("Failed to load webhook event %s: %v", id, err)
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	result.RetryCount = existing.RetryCount

	switch {
	case existing.Processed:
		result.Outcome = OutcomeDuplicate
		log.Printf("Webhook event %s already processed, skipping", id)
	case existing.RetryCount >= s.maxRetries:
		result.Outcome = OutcomeEscalated
		log.Printf("Webhook event %s exhausted its retries, awaiting manual reprocess", id)
	default:
		log.Printf("Webhook event %s is being processed elsewhere, skipping", id)
	}

	metrics.WebhookEventsTotal.WithLabelValues(eventType, string(result.Outcome)).Inc()
	return result, nil
}

// process dispatches a claimed event and records the outcome on its row.
//
// Dispatch and the outcome write do not inherit the caller's cancellation: a
// gateway that hangs up mid-request must still leave the attempt recorded.
// Dispatch is bounded by the processing lease instead.
func (s *Service) process(ctx context.Context, ev *Event, env *Envelope) *IngestResult {
	result := &IngestResult{EventID: ev.ExternalID, EventType: ev.EventType, RetryCount: ev.RetryCount}

	detached := context.WithoutCancel(ctx)
	dispatchCtx, cancelDispatch := context.WithTimeout(detached, s.lease)
	dispatchErr := s.dispatcher.Dispatch(dispatchCtx, env)
	cancelDispatch()

	ctx, cancel := context.WithTimeout(detached, outcomeWriteTimeout)
	defer cancel()

	if dispatchErr == nil {
		if err := s.ledger.MarkProcessed(ctx, ev.ExternalID, s.now()); err != nil {
			// The lease expires and the sweep redispatches; handlers are idempotent.
			log.Printf("Webhook event %s handled but not marked processed: %v", ev.ExternalID, err)
			result.Outcome = OutcomeFailed
			result.Error = err.Error()
		} else {
			log.Printf("Webhook event %s (%s) processed", ev.ExternalID, ev.EventType)
			result.Outcome = OutcomeProcessed
		}
		metrics.WebhookEventsTotal.WithLabelValues(ev.EventType, string(result.Outcome)).Inc()
		return result
	}

	msg := truncate(dispatchErr.Error(), maxErrorLen)
	result.Outcome = OutcomeFailed
	result.Error = msg

	retryCount, err := s.ledger.MarkFailed(ctx, ev.ExternalID, msg, s.now())
	if err != nil {
		log.Printf("Webhook event %s failed (%v) and the failure could not be recorded: %v", ev.ExternalID, dispatchErr, err)
		metrics.WebhookEventsTotal.WithLabelValues(ev.EventType, string(result.Outcome)).Inc()
		return result
	}
	result.RetryCount = retryCount

	if retryCount < s.maxRetries {
		log.Printf("Webhook event %s (%s) failed, attempt %d of %d, next retry in %s: %v",
			ev.ExternalID, ev.EventType, retryCount, s.maxRetries, BackoffFor(s.schedule, retryCount), dispatchErr)
	} else {
		log.Printf("Webhook event %s (%s) failed, attempt %d of %d: %v", ev.ExternalID, ev.EventType, retryCount, s.maxRetries, dispatchErr)

		ev.RetryCount = retryCount
		ev.LastError = msg
		if s.escalate(ctx, ev) {
			result.Outcome = OutcomeEscalated
		}
	}

	metrics.WebhookEventsTotal.WithLabelValues(ev.EventType, string(result.Outcome)).Inc()
	return result
}

// escalate moves an exhausted event to the permanent failure table and raises
// an alert. It reports whether a new permanent failure was recorded.
func (s *Service) escalate(ctx context.Context, ev *Event) bool {
	inserted, err := s.ledger.RecordPermanentFailure(ctx, PermanentFailure{
		ExternalEventID: ev.ExternalID,
		EventType:       ev.EventType,
		RawPayload:      ev.RawPayload,
		LastError:       ev.LastError,
		RetryCount:      ev.RetryCount,
	})
	if err != nil {
		// Picked up again by the next sweep.
		log.Printf("Failed to escalate webhook event %s: %v", ev.ExternalID, err)
		return false
	}
	if !inserted {
		return false
	}

	metrics.WebhookEscalationsTotal.Inc()
	log.Printf("Webhook event %s escalated after %d failed attempts", ev.ExternalID, ev.RetryCount)

	alert := notify.Alert{
		Kind:    notify.KindWebhookMaxRetries,
		Subject: fmt.Sprintf("webhook event %s exceeded %d retries", ev.ExternalID, s.maxRetries),
		Fields: map[string]any{
			"event_id":    ev.ExternalID,
			"event_type":  ev.EventType,
			"retry_count": ev.RetryCount,
			"last_error":  ev.LastError,
		},
		OccurredAt: s.now(),
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		log.Printf("Failed to send escalation alert for %s: %v", ev.ExternalID, err)
	}
	return true
}

// SweepFailed retries due events and escalates exhausted ones. Only one
// instance sweeps at a time; others get lock.ErrNotAcquired.
func (s *Service) SweepFailed(ctx context.Context) (*SweepStats, error) {
	release, err := s.locker.Acquire(ctx, sweepLockKey, s.sweepLockTTL())
	if err != nil {
		return nil, err
	}
	defer release()

	stats := &SweepStats{}

	exhausted, err := s.ledger.ListUnescalated(ctx, s.maxRetries, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list exhausted webhook events: %w", err)
	}
	for i := range exhausted {
		if s.escalate(ctx, &exhausted[i]) {
			stats.Escalated++
		}
	}

	due, err := s.ledger.ListDue(ctx, s.now(), s.schedule, s.maxRetries, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due webhook events: %w", err)
	}
	stats.Scanned = len(due)

	for _, candidate := range due {
		if ctx.Err() != nil {
			break
		}

		now := s.now()
		ev, err := s.ledger.Claim(ctx, candidate.ExternalID, now, now.Add(s.lease), s.maxRetries)
		if err != nil {
			log.Printf("Failed to claim webhook event %s for retry: %v", candidate.ExternalID, err)
			stats.Skipped++
			continue
		}
		if ev == nil {
			stats.Skipped++
			continue
		}

		stats.Retried++
		result := s.retry(ctx, ev)
		switch result.Outcome {
		case OutcomeProcessed:
			stats.Succeeded++
		case OutcomeEscalated:
			stats.Failed++
			stats.Escalated++
		default:
			stats.Failed++
		}
	}

	if stats.Scanned > 0 || stats.Escalated > 0 {
		log.Printf("Webhook retry sweep: scanned=%d retried=%d succeeded=%d failed=%d escalated=%d skipped=%d",
			stats.Scanned, stats.Retried, stats.Succeeded, stats.Failed, stats.Escalated, stats.Skipped)
	}
	return stats, nil
}

// retry re-runs dispatch for a claimed event from its stored payload.
func (s *Service) retry(ctx context.Context, ev *Event) *IngestResult {
	env, err := ParseEnvelope(ev.RawPayload)
	if err != nil {
		env = &Envelope{Event: ev.EventType}
		log.Printf("Stored payload of webhook event %s no longer parses: %v", ev.ExternalID, err)
	}
	return s.process(ctx, ev, env)
}

// Reprocess dispatches an unprocessed event once regardless of its retry
// count. A success resolves its permanent failure record.
func (s *Service) Reprocess(ctx context.Context, eventID string) (*IngestResult, error) {
	existing, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if existing.Processed {
		return nil, ErrEventProcessed
	}

	now := s.now()
	ev, err := s.ledger.Claim(ctx, eventID, now, now.Add(s.lease), math.MaxInt32)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrEventBusy
	}

	log.Printf("Manually reprocessing webhook event %s after %d failed attempts", eventID, ev.RetryCount)
	result := s.retry(ctx, ev)
	if result.Outcome == OutcomeProcessed {
		if err := s.ledger.ResolvePermanentFailure(ctx, eventID, s.now()); err != nil {
			log.Printf("Failed to resolve permanent failure for %s: %v", eventID, err)
		}
	}
	return result, nil
}

func (s *Service) ListPermanentFailures(ctx context.Context, includeResolved bool, limit int) ([]PermanentFailure, error) {
	return s.ledger.ListPermanentFailures(ctx, includeResolved, limit)
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	return s.ledger.Get(ctx, eventID)
}

// sweepLockTTL covers a full batch even when every dispatch runs to its lease.
func (s *Service) sweepLockTTL() time.Duration {
	ttl := s.sweepInterval
	if ttl < s.lease {
		ttl = s.lease
	}
	return 2 * ttl
}

// BackoffFor returns the wait after the retryCount-th failure. It reads
// schedule[retryCount-1], one slot behind a literal schedule[retryCount]
// lookup: a row with retry_count 1 waits schedule[0], not schedule[1], so
// with the default 1,5,15,60 minute schedule the first retry comes one minute
// after the first failure. Counts below 1 read schedule[0] and counts past the
// end reuse the last entry.
func BackoffFor(schedule []time.Duration, retryCount int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	i := retryCount - 1
	if i < 0 {
		i = 0
	}
	if i >= len(schedule) {
		i = len(schedule) - 1
	}
	return schedule[i]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsSweepSkipped reports whether err means another instance holds the sweep lock.
func IsSweepSkipped(err error) bool {
	return errors.Is(err, lock.ErrNotAcquired)
}
