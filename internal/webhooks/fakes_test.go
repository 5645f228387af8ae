package webhooks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/temmyjay001/payments-core/internal/notify"
	"github.com/temmyjay001/payments-core/internal/payments"
	"github.com/temmyjay001/payments-core/internal/reconciliation"
)

// clock is a settable time source shared by the fake ledger and the service.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memLedger mirrors the conditional updates of PostgresLedger and, like a
// pgx query, fails once its context is done.
type memLedger struct {
	mu       sync.Mutex
	clock    *clock
	events   map[string]*Event
	failures map[string]*PermanentFailure

	insertErr error
}

func newMemLedger(c *clock) *memLedger {
	return &memLedger{
		clock:    c,
		events:   make(map[string]*Event),
		failures: make(map[string]*PermanentFailure),
	}
}

func (l *memLedger) InsertIfAbsent(ctx context.Context, ev Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if l.insertErr != nil {
		return false, l.insertErr
	}
	if _, ok := l.events[ev.ExternalID]; ok {
		return false, nil
	}
	now := l.clock.Now()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	l.events[ev.ExternalID] = &ev
	return true, nil
}

func (l *memLedger) Claim(ctx context.Context, id string, now, until time.Time, maxRetries int) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ev, ok := l.events[id]
	if !ok || ev.Processed || ev.RetryCount >= maxRetries {
		return nil, nil
	}
	if ev.LockedUntil != nil && ev.LockedUntil.After(now) {
		return nil, nil
	}
	ev.LockedUntil = &until
	cp := *ev
	return &cp, nil
}

func (l *memLedger) MarkProcessed(ctx context.Context, id string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	ev, ok := l.events[id]
	if !ok || ev.Processed {
		return nil
	}
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.LastError = ""
	ev.LockedUntil = nil
	ev.UpdatedAt = now
	return nil
}

func (l *memLedger) MarkFailed(ctx context.Context, id, lastError string, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ev, ok := l.events[id]
	if !ok || ev.Processed {
		return 0, ErrEventProcessed
	}
	ev.RetryCount++
	ev.LastError = lastError
	ev.LockedUntil = nil
	ev.UpdatedAt = now
	return ev.RetryCount, nil
}

func (l *memLedger) Get(ctx context.Context, id string) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ev, ok := l.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (l *memLedger) ListDue(ctx context.Context, now time.Time, schedule []time.Duration, maxRetries, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range l.events {
		if ev.Processed || ev.RetryCount >= maxRetries {
			continue
		}
		if ev.LockedUntil != nil && ev.LockedUntil.After(now) {
			continue
		}
		if ev.UpdatedAt.Add(BackoffFor(schedule, ev.RetryCount)).After(now) {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) ListUnescalated(ctx context.Context, maxRetries, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Event
	for id, ev := range l.events {
		if ev.Processed || ev.RetryCount < maxRetries {
			continue
		}
		if _, ok := l.failures[id]; ok {
			continue
		}
		out = append(out, *ev)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) RecordPermanentFailure(ctx context.Context, pf PermanentFailure) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := l.failures[pf.ExternalEventID]; ok {
		return false, nil
	}
	pf.CreatedAt = l.clock.Now()
	l.failures[pf.ExternalEventID] = &pf
	return true, nil
}

func (l *memLedger) ListPermanentFailures(ctx context.Context, includeResolved bool, limit int) ([]PermanentFailure, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []PermanentFailure{}
	for _, pf := range l.failures {
		if pf.ResolvedAt != nil && !includeResolved {
			continue
		}
		out = append(out, *pf)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) ResolvePermanentFailure(ctx context.Context, id string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if pf, ok := l.failures[id]; ok && pf.ResolvedAt == nil {
		pf.ResolvedAt = &now
	}
	return nil
}

// fakeUpdater counts applied updates and fails while failing is set.
type fakeUpdater struct {
	mu            sync.Mutex
	payments      []payments.PaymentUpdate
	subscriptions []payments.SubscriptionUpdate
	failing       bool
	gate          chan struct{}
}

var errStateUnavailable = errors.New("payment store unavailable")

func (u *fakeUpdater) ApplyPaymentStatus(_ context.Context, up payments.PaymentUpdate) (*payments.Record, error) {
	if u.gate != nil {
		<-u.gate
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failing {
		return nil, errStateUnavailable
	}
	u.payments = append(u.payments, up)
	return &payments.Record{Ref: up.Ref, Kind: payments.KindPayment, Status: up.Status, AmountCents: up.AmountCents}, nil
}

func (u *fakeUpdater) ApplySubscriptionStatus(_ context.Context, up payments.SubscriptionUpdate) (*payments.Record, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failing {
		return nil, errStateUnavailable
	}
	u.subscriptions = append(u.subscriptions, up)
	return &payments.Record{Ref: up.Ref, Kind: payments.KindSubscription, Status: up.Status}, nil
}

func (u *fakeUpdater) paymentCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.payments)
}

func (u *fakeUpdater) setFailing(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failing = v
}

type fakeReconciler struct {
	mu   sync.Mutex
	refs []string
	diff int64
	err  error

	// during runs before the comparison, e.g. to hang up the caller.
	during func()
}

func (r *fakeReconciler) Reconcile(ctx context.Context, ref string) (*reconciliation.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.during != nil {
		r.during()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	r.refs = append(r.refs, ref)
	return &reconciliation.Result{PaymentRef: ref, DiscrepancyCents: r.diff, Reconciled: r.diff <= 1}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}
