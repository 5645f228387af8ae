// internal/webhooks/store.go
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temmyjay001/payments-core/internal/storage"
)

// Ledger is the idempotency ledger plus the permanent failure table.
//
// InsertIfAbsent and Claim together make check-and-dispatch atomic: the insert
// is a no-op for a known id, and only one caller at a time can hold the
// processing lease of an unprocessed row.
type Ledger interface {
	InsertIfAbsent(ctx context.Context, ev Event) (bool, error)
	Claim(ctx context.Context, eventID string, now, until time.Time, maxRetries int) (*Event, error)
	MarkProcessed(ctx context.Context, eventID string, now time.Time) error
	MarkFailed(ctx context.Context, eventID, lastError string, now time.Time) (int, error)
	Get(ctx context.Context, eventID string) (*Event, error)
	ListDue(ctx context.Context, now time.Time, schedule []time.Duration, maxRetries, limit int) ([]Event, error)
	ListUnescalated(ctx context.Context, maxRetries, limit int) ([]Event, error)

	RecordPermanentFailure(ctx context.Context, pf PermanentFailure) (bool, error)
	ListPermanentFailures(ctx context.Context, includeResolved bool, limit int) ([]PermanentFailure, error)
	ResolvePermanentFailure(ctx context.Context, eventID string, now time.Time) error
}

const eventColumns = `external_event_id, event_type, raw_payload, processed, processed_at, retry_count, COALESCE(last_error, ''), locked_until, created_at, updated_at`

const (
	insertEventSQL = `
INSERT INTO webhook_events (external_event_id, event_type, raw_payload)
VALUES ($1, $2, $3)
ON CONFLICT (external_event_id) DO NOTHING`

	claimEventSQL = `
UPDATE webhook_events
SET locked_until = $3
WHERE external_event_id = $1
  AND processed = FALSE
  AND retry_count < $4
  AND (locked_until IS NULL OR locked_until <= $2)
RETURNING ` + eventColumns

	markProcessedSQL = `
UPDATE webhook_events
SET processed = TRUE, processed_at = $2, last_error = NULL, locked_until = NULL, updated_at = $2
WHERE external_event_id = $1 AND processed = FALSE`

	markFailedSQL = `
UPDATE webhook_events
SET retry_count = retry_count + 1, last_error = $2, locked_until = NULL, updated_at = $3
WHERE external_event_id = $1 AND processed = FALSE
RETURNING retry_count`

	getEventSQL = `SELECT ` + eventColumns + ` FROM webhook_events WHERE external_event_id = $1`

	// $2 holds the backoff schedule in milliseconds; the wait after the k-th
	// failure is element k of the 1-based array, clamped to its bounds.
	listDueSQL = `
SELECT ` + eventColumns + `
FROM webhook_events
WHERE processed = FALSE
  AND retry_count < $3
  AND (locked_until IS NULL OR locked_until <= $1)
  AND updated_at + ($2::bigint[])[LEAST(GREATEST(retry_count, 1), cardinality($2::bigint[]))] * INTERVAL '1 millisecond' <= $1
ORDER BY updated_at
LIMIT $4`

	listUnescalatedSQL = `
SELECT ` + eventColumns + `
FROM webhook_events e
WHERE e.processed = FALSE
  AND e.retry_count >= $1
  AND NOT EXISTS (SELECT 1 FROM webhook_permanent_failures f WHERE f.external_event_id = e.external_event_id)
ORDER BY e.updated_at
LIMIT $2`

	insertPermanentFailureSQL = `
INSERT INTO webhook_permanent_failures (id, external_event_id, event_type, raw_payload, last_error, retry_count)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (external_event_id) DO NOTHING`

	listPermanentFailuresSQL = `
SELECT id, external_event_id, event_type, raw_payload, COALESCE(last_error, ''), retry_count, resolved_at, created_at
FROM webhook_permanent_failures
WHERE $1 OR resolved_at IS NULL
ORDER BY created_at DESC
LIMIT $2`

	resolvePermanentFailureSQL = `
UPDATE webhook_permanent_failures
SET resolved_at = $2
WHERE external_event_id = $1 AND resolved_at IS NULL`
)

type PostgresLedger struct {
	db *storage.DB
}

func NewPostgresLedger(db *storage.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) InsertIfAbsent(ctx context.Context, ev Event) (bool, error) {
	tag, err := l.db.Exec(ctx, insertEventSQL, ev.ExternalID, ev.EventType, []byte(ev.RawPayload))
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Claim takes the processing lease of an unprocessed, non-exhausted event. It
// returns nil, nil when the event is processed, exhausted or leased elsewhere.
func (l *PostgresLedger) Claim(ctx context.Context, eventID string, now, until time.Time, maxRetries int) (*Event, error) {
	ev, err := scanEvent(l.db.QueryRow(ctx, claimEventSQL, eventID, now, until, maxRetries))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return ev, nil
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, eventID string, now time.Time) error {
	if _, err := l.db.Exec(ctx, markProcessedSQL, eventID, now); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (l *PostgresLedger) MarkFailed(ctx context.Context, eventID, lastError string, now time.Time) (int, error) {
	var retryCount int
	if err := l.db.QueryRow(ctx, markFailedSQL, eventID, lastError, now).Scan(&retryCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEventProcessed
		}
		return 0, fmt.Errorf("failed to record webhook failure: %w", err)
	}
	return retryCount, nil
}

func (l *PostgresLedger) Get(ctx context.Context, eventID string) (*Event, error) {
	ev, err := scanEvent(l.db.QueryRow(ctx, getEventSQL, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return ev, nil
}

func (l *PostgresLedger) ListDue(ctx context.Context, now time.Time, schedule []time.Duration, maxRetries, limit int) ([]Event, error) {
	millis := make([]int64, len(schedule))
	for i, d := range schedule {
		millis[i] = d.Milliseconds()
	}
	return l.listEvents(ctx, listDueSQL, now, millis, maxRetries, limit)
}

func (l *PostgresLedger) ListUnescalated(ctx context.Context, maxRetries, limit int) ([]Event, error) {
	return l.listEvents(ctx, listUnescalatedSQL, maxRetries, limit)
}

func (l *PostgresLedger) listEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) RecordPermanentFailure(ctx context.Context, pf PermanentFailure) (bool, error) {
	if pf.ID == uuid.Nil {
		pf.ID = uuid.New()
	}
	tag, err := l.db.Exec(ctx, insertPermanentFailureSQL,
		pf.ID, pf.ExternalEventID, pf.EventType, []byte(pf.RawPayload), pf.LastError, pf.RetryCount)
	if err != nil {
		return false, fmt.Errorf("failed to record permanent failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) ListPermanentFailures(ctx context.Context, includeResolved bool, limit int) ([]PermanentFailure, error) {
	rows, err := l.db.Query(ctx, listPermanentFailuresSQL, includeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list permanent failures: %w", err)
	}
	defer rows.Close()

	out := []PermanentFailure{}
	for rows.Next() {
		var pf PermanentFailure
		var payload []byte
		if err := rows.Scan(&pf.ID, &pf.ExternalEventID, &pf.EventType, &payload, &pf.LastError,
			&pf.RetryCount, &pf.ResolvedAt, &pf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permanent failure: %w", err)
		}
		pf.RawPayload = payload
		out = append(out, pf)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) ResolvePermanentFailure(ctx context.Context, eventID string, now time.Time) error {
	if _, err := l.db.Exec(ctx, resolvePermanentFailureSQL, eventID, now); err != nil {
		return fmt.Errorf("failed to resolve permanent failure: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	var payload []byte
	err := row.Scan(&ev.ExternalID, &ev.EventType, &payload, &ev.Processed, &ev.ProcessedAt,
		&ev.RetryCount, &ev.LastError, &ev.LockedUntil, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.RawPayload = payload
	return &ev, nil
}
