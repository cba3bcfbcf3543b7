package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxBackoff = time.Hour

// InsertEvents writes events inside the caller's transaction.
func InsertEvents(ctx context.Context, tx pgx.Tx, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO outbox_events (tenant_id, appointment_id, kind, payload)
			VALUES ($1, $2, $3, $4::jsonb)
		`, ev.TenantID, ev.AppointmentID, string(ev.Kind), string(ev.Payload))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert outbox events: %w", err)
	}
	return nil
}

type PgStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
	backoff     time.Duration
}

// NewPgStore returns a Store over outbox_events. A failed event is retried
// after backoff doubled per attempt and parked once maxAttempts is reached.
func NewPgStore(pool *pgxpool.Pool, maxAttempts int, backoff time.Duration) *PgStore {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &PgStore{pool: pool, maxAttempts: maxAttempts, backoff: backoff}
}

func (s *PgStore) DispatchBatch(ctx context.Context, limit int, handle func(ctx context.Context, ev Event) error) (BatchResult, error) {
	var res BatchResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	events, err := fetchDue(ctx, tx, limit)
	if err != nil {
		return res, err
	}
	if len(events) == 0 {
		return res, tx.Commit(ctx)
	}

	for _, ev := range events {
		if herr := handle(ctx, ev); herr != nil {
			if err := s.markFailed(ctx, tx, ev, herr); err != nil {
				return res, err
			}
			res.Failed++
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = NOW(), attempts = attempts + 1, last_error = NULL
			WHERE id = $1
		`, ev.ID); err != nil {
			return res, fmt.Errorf("mark outbox event %d published: %w", ev.ID, err)
		}
		res.Delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("commit outbox tx: %w", err)
	}
	return res, nil
}

func fetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, appointment_id, kind, payload, attempts, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		  AND failed_at IS NULL
		  AND next_attempt_at <= NOW()
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.AppointmentID, &kind, &ev.Payload, &ev.Attempts, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Kind = Kind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PgStore) markFailed(ctx context.Context, tx pgx.Tx, ev Event, cause error) error {
	attempts := ev.Attempts + 1
	parked := attempts >= s.maxAttempts

	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = $2,
		    last_error = $3,
		    next_attempt_at = NOW() + ($4 * INTERVAL '1 millisecond'),
		    failed_at = CASE WHEN $5 THEN NOW() ELSE NULL END
		WHERE id = $1
	`, ev.ID, attempts, cause.Error(), s.delay(attempts).Milliseconds(), parked)
	if err != nil {
		return fmt.Errorf("mark outbox event %d failed: %w", ev.ID, err)
	}
	return nil
}

func (s *PgStore) delay(attempts int) time.Duration {
	d := s.backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
