package webhooks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/lock"
	"github.com/temmyjay001/payments-core/internal/notify"
	"github.com/temmyjay001/payments-core/internal/payments"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc      *Service
	ledger   *memLedger
	updater  *fakeUpdater
	recon    *fakeReconciler
	notifier *recordingNotifier
	clock    *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		WebhookMaxRetries:      5,
		WebhookBackoffSchedule: config.DefaultWebhookBackoffSchedule,
		WebhookSweepInterval:   time.Minute,
		WebhookBatchSize:       10,
		WebhookProcessingLease: 2 * time.Minute,
	}

	c := &clock{t: t0}
	h := &harness{
		ledger:   newMemLedger(c),
		updater:  &fakeUpdater{},
		recon:    &fakeReconciler{},
		notifier: &recordingNotifier{},
		clock:    c,
	}
	h.svc = NewService(cfg, h.ledger, NewDispatcher(h.updater, h.recon), h.notifier, lock.NewLocal())
	h.svc.now = c.Now
	return h
}

func paymentEvent(id, event, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"event":%q,"dateCreated":"2025-03-01 12:00:00","payment":{"id":%q,"customer":"cus_1","status":"CONFIRMED","billingType":"PIX","value":100.00,"confirmedDate":"2025-03-01"}}`,
		id, event, paymentID))
}

func TestIngest_DuplicateDeliveryHandledOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	raw := paymentEvent("evt_1", EventPaymentConfirmed, "pay_1")

	first, err := h.svc.Ingest(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, first.Outcome)
	assert.Equal(t, "evt_1", first.EventID)

	second, err := h.svc.Ingest(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Equal(t, 1, h.updater.paymentCalls())
	assert.Equal(t, []string{"pay_1"}, h.recon.refs)

	ev, err := h.ledger.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ev.Processed)
	assert.Equal(t, 0, ev.RetryCount)
}

func TestIngest_ConcurrentDeliveriesHandledOnce(t *testing.T) {
	h := newHarness(t)
	h.updater.gate = make(chan struct{})
	raw := paymentEvent("evt_1", EventPaymentReceived, "pay_1")

	const n = 10
	results := make(chan *IngestResult, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := h.svc.Ingest(context.Background(), raw)
			if err != nil {
				res = &IngestResult{Outcome: Outcome("error: " + err.Error())}
			}
			results <- res
		}()
	}

	// Every delivery but the lease holder returns without dispatching.
	outcomes := map[Outcome]int{}
	for i := 0; i < n-1; i++ {
		outcomes[(<-results).Outcome]++
	}
	close(h.updater.gate)
	outcomes[(<-results).Outcome]++

	assert.Equal(t, 1, outcomes[OutcomeProcessed])
	assert.Equal(t, n-1, outcomes[OutcomeInProgress])
	assert.Equal(t, 1, h.updater.paymentCalls())
}

func TestIngest_Malformed(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{`not json`, `{"id":"evt_1"}`, `{"event":"  "}`} {
		_, err := h.svc.Ingest(context.Background(), []byte(raw))
		assert.ErrorIs(t, err, ErrMalformedPayload, raw)
	}
	assert.Empty(t, h.ledger.events)
}

func TestIngest_LedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.ledger.insertErr = errors.New("connection refused")

	_, err := h.svc.Ingest(context.Background(), paymentEvent("evt_1", EventPaymentConfirmed, "pay_1"))
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Equal(t, 0, h.updater.paymentCalls())
}

func TestIngest_HandlerFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.updater.setFailing(true)
	ctx := context.Background()

	res, err := h.svc.Ingest(ctx, paymentEvent("evt_1", EventPaymentOverdue, "pay_1"))
	require.NoError(t, err, "handler failures are acknowledged")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.RetryCount)
	assert.Contains(t, res.Error, errStateUnavailable.Error())

	ev, err := h.ledger.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ev.Processed)
	assert.Equal(t, 1, ev.RetryCount)
	assert.Contains(t, ev.LastError, errStateUnavailable.Error())
	assert.Nil(t, ev.LockedUntil)
}

func TestIngest_CallerHangsUpMidDispatch(t *testing.T) {
	tests := []struct {
		name        string
		reconErr    error
		wantOutcome Outcome
		wantRetries int
	}{
		{"failure is still recorded", errors.New("gateway timeout"), OutcomeFailed, 1},
		{"success is still recorded", nil, OutcomeProcessed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.recon.err = tt.reconErr
			h.recon.during = cancel

			res, err := h.svc.Ingest(ctx, paymentEvent("evt_1", EventPaymentConfirmed, "pay_1"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			require.Error(t, ctx.Err(), "the caller went away during dispatch")

			ev, err := h.ledger.Get(context.Background(), "evt_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRetries, ev.RetryCount)
			assert.Equal(t, tt.reconErr == nil, ev.Processed)
			assert.Nil(t, ev.LockedUntil, "the lease is released")
			if tt.reconErr != nil {
				assert.Contains(t, ev.LastError, "gateway timeout")
			}
		})
	}
}

func TestIngest_RedeliveryOfFailedEventRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	raw := paymentEvent("evt_1", EventPaymentOverdue, "pay_1")

	h.updater.setFailing(true)
	_, err := h.svc.Ingest(ctx, raw)
	require.NoError(t, err)

	h.updater.setFailing(false)
	res, err := h.svc.Ingest(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 1, h.updater.paymentCalls())
}

func TestIngest_MissingResourceFails(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Ingest(context.Background(), []byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, ErrMissingResource.Error())
}

func TestIngest_UnknownEventIsProcessed(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Ingest(context.Background(), []byte(`{"id":"evt_9","event":"ACCOUNT_STATUS_UPDATED"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 0, h.updater.paymentCalls())
}

func TestSweepFailed_BackoffAndEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updater.setFailing(true)

	res, err := h.svc.Ingest(ctx, paymentEvent("evt_1", EventPaymentRefunded, "pay_1"))
	require.NoError(t, err)
	require.Equal(t, 1, res.RetryCount)

	// Retries become due 1, 5, 15 and 60 minutes after each failure.
	attempts := []time.Duration{1 * time.Minute, 6 * time.Minute, 21 * time.Minute, 81 * time.Minute}
	for i, at := range attempts {
		h.clock.Set(t0.Add(at - time.Second))
		stats, err := h.svc.SweepFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Retried, "attempt %d ran before its backoff elapsed", i+2)

		h.clock.Set(t0.Add(at))
		stats, err = h.svc.SweepFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Retried, "attempt %d", i+2)
		assert.Equal(t, 1, stats.Failed)
	}

	ev, err := h.ledger.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 5, ev.RetryCount)
	assert.False(t, ev.Processed)

	require.Equal(t, 1, h.notifier.count())
	alert := h.notifier.alerts[0]
	assert.Equal(t, notify.KindWebhookMaxRetries, alert.Kind)
	assert.Equal(t, "evt_1", alert.Fields["event_id"])
	assert.Equal(t, 5, alert.Fields["retry_count"])

	failures, err := h.svc.ListPermanentFailures(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "evt_1", failures[0].ExternalEventID)

	// No further automatic attempts, even much later.
	h.clock.Set(t0.Add(48 * time.Hour))
	stats, err := h.svc.SweepFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Retried)
	assert.Equal(t, 0, stats.Escalated)
	assert.Equal(t, 1, h.notifier.count())

	// Redelivery of an exhausted event does not dispatch either.
	h.updater.setFailing(false)
	res, err = h.svc.Ingest(ctx, paymentEvent("evt_1", EventPaymentRefunded, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, res.Outcome)
	assert.Equal(t, 0, h.updater.paymentCalls())
}

func TestSweepFailed_EscalatesLeftovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.InsertIfAbsent(ctx, Event{ExternalID: "evt_old", EventType: EventPaymentFailed})
	require.NoError(t, err)
	h.ledger.events["evt_old"].RetryCount = 5

	stats, err := h.svc.SweepFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated)
	assert.Equal(t, 1, h.notifier.count())

	stats, err = h.svc.SweepFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Escalated)
	assert.Equal(t, 1, h.notifier.count())
}

func TestSweepFailed_SingleInstance(t *testing.T) {
	h := newHarness(t)

	release, err := h.svc.locker.Acquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = h.svc.SweepFailed(context.Background())
	assert.True(t, IsSweepSkipped(err))
}

func TestSweepFailed_SkipsLeasedEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updater.setFailing(true)

	_, err := h.svc.Ingest(ctx, paymentEvent("evt_1", EventPaymentOverdue, "pay_1"))
	require.NoError(t, err)

	h.clock.Set(t0.Add(time.Minute))
	_, err = h.ledger.Claim(ctx, "evt_1", h.clock.Now(), h.clock.Now().Add(2*time.Minute), 5)
	require.NoError(t, err)

	stats, err := h.svc.SweepFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Retried)
}

func TestReprocess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updater.setFailing(true)

	raw := paymentEvent("evt_1", EventPaymentConfirmed, "pay_1")
	_, err := h.svc.Ingest(ctx, raw)
	require.NoError(t, err)
	h.ledger.events["evt_1"].RetryCount = 5
	_, err = h.svc.SweepFailed(ctx)
	require.NoError(t, err)

	h.updater.setFailing(false)
	res, err := h.svc.Reprocess(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 1, h.updater.paymentCalls())

	failures, err := h.svc.ListPermanentFailures(ctx, false, 10)
	require.NoError(t, err)
	assert.Empty(t, failures)

	all, err := h.svc.ListPermanentFailures(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].ResolvedAt)

	_, err = h.svc.Reprocess(ctx, "evt_1")
	assert.ErrorIs(t, err, ErrEventProcessed)

	_, err = h.svc.Reprocess(ctx, "evt_missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestReprocess_Busy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.InsertIfAbsent(ctx, Event{ExternalID: "evt_1", EventType: EventPaymentOverdue})
	require.NoError(t, err)
	_, err = h.ledger.Claim(ctx, "evt_1", t0, t0.Add(time.Minute), 5)
	require.NoError(t, err)

	_, err = h.svc.Reprocess(ctx, "evt_1")
	assert.ErrorIs(t, err, ErrEventBusy)
}

func TestDrainFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updater.setFailing(true)

	for i := 0; i < 3; i++ {
		_, err := h.svc.Ingest(ctx, paymentEvent(fmt.Sprintf("evt_%d", i), EventPaymentOverdue, fmt.Sprintf("pay_%d", i)))
		require.NoError(t, err)
	}

	h.updater.setFailing(false)
	h.clock.Set(t0.Add(time.Minute))
	stats, err := h.svc.DrainFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Retried)
	assert.Equal(t, 3, stats.Succeeded)
}

func TestEventID(t *testing.T) {
	withID, err := ParseEnvelope([]byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", withID.EventID())

	a, err := ParseEnvelope([]byte(`{"event":"PAYMENT_CONFIRMED","dateCreated":"2025-03-01 12:00:00","payment":{"id":"pay_1"}}`))
	require.NoError(t, err)
	b, err := ParseEnvelope([]byte(`{"event":"PAYMENT_CONFIRMED","dateCreated":"2025-03-01 12:00:00","payment":{"id":"pay_1","status":"CONFIRMED"}}`))
	require.NoError(t, err)
	c, err := ParseEnvelope([]byte(`{"event":"PAYMENT_RECEIVED","dateCreated":"2025-03-01 12:00:00","payment":{"id":"pay_1"}}`))
	require.NoError(t, err)

	assert.Equal(t, a.EventID(), b.EventID(), "derived ids ignore fields outside the identity")
	assert.NotEqual(t, a.EventID(), c.EventID())
	assert.Regexp(t, `^derived_[0-9a-f]{32}$`, a.EventID())
}

func TestBackoffFor(t *testing.T) {
	schedule := config.DefaultWebhookBackoffSchedule

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 5 * time.Minute},
		{4, 60 * time.Minute},
		{5, 360 * time.Minute},
		{12, 360 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffFor(schedule, tt.retryCount), "retry count %d", tt.retryCount)
	}
	assert.NotEqual(t, schedule[1], BackoffFor(schedule, 1), "first failure waits the first entry")
	assert.Zero(t, BackoffFor(nil, 3))
}

func TestDispatcher_Routing(t *testing.T) {
	tests := []struct {
		event      string
		body       string
		wantStatus string
		wantSub    bool
	}{
		{EventPaymentCreated, `"payment":{"id":"pay_1","status":"PENDING","value":10}`, payments.StatusPending, false},
		{EventPaymentOverdue, `"payment":{"id":"pay_1","status":"PENDING","value":10}`, payments.StatusOverdue, false},
		{EventPaymentCardRefused, `"payment":{"id":"pay_1","value":10}`, payments.StatusFailed, false},
		{EventPixExpired, `"payment":{"id":"pay_1","value":10}`, payments.StatusExpired, false},
		{EventPaymentRefunded, `"payment":{"id":"pay_1","value":10}`, payments.StatusRefunded, false},
		{EventSubscriptionUpdated, `"subscription":{"id":"sub_1","status":"ACTIVE","value":49.9}`, payments.StatusActive, true},
		{EventSubscriptionUpdated, `"subscription":{"id":"sub_1","status":"ACTIVE","value":49.9,"deleted":true}`, payments.StatusCanceled, true},
		{EventSubscriptionInactive, `"subscription":{"id":"sub_1","status":"ACTIVE","value":49.9}`, payments.StatusInactive, true},
		{EventSubscriptionDeleted, `"subscription":{"id":"sub_1","value":49.9}`, payments.StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			updater := &fakeUpdater{}
			d := NewDispatcher(updater, &fakeReconciler{})
			env, err := ParseEnvelope([]byte(fmt.Sprintf(`{"event":%q,%s}`, tt.event, tt.body)))
			require.NoError(t, err)

			require.True(t, d.Handles(tt.event))
			require.NoError(t, d.Dispatch(context.Background(), env))

			if tt.wantSub {
				require.Len(t, updater.subscriptions, 1)
				assert.Equal(t, tt.wantStatus, updater.subscriptions[0].Status)
				assert.Equal(t, int64(4990), updater.subscriptions[0].AmountCents)
				return
			}
			require.Len(t, updater.payments, 1)
			assert.Equal(t, tt.wantStatus, updater.payments[0].Status)
			assert.Equal(t, int64(1000), updater.payments[0].AmountCents)
		})
	}
}

func TestDispatcher_SettledReconciles(t *testing.T) {
	updater := &fakeUpdater{}
	recon := &fakeReconciler{diff: 10}
	d := NewDispatcher(updater, recon)

	env, err := ParseEnvelope(paymentEvent("evt_1", EventPaymentReceived, "pay_1"))
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), env), "a discrepancy is not a handler failure")
	assert.Equal(t, []string{"pay_1"}, recon.refs)
	require.Len(t, updater.payments, 1)
	assert.Equal(t, payments.StatusReceived, updater.payments[0].Status)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), updater.payments[0].OccurredAt)

	recon.err = errors.New("gateway circuit breaker open")
	assert.Error(t, d.Dispatch(context.Background(), env))
}
