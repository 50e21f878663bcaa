package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/outbox"
)

// claimLease is how long an in_progress message stays claimed before another relay may retake it.
const claimLease = 5 * time.Minute

type OutboxStore struct{ s *Store }

func (o *OutboxStore) Enqueue(ctx context.Context, m domain.Message) error {
	status := m.Status
	if status == "" {
		status = domain.StatusPending
	}
	_, err := o.s.db(ctx).Exec(ctx, `
		INSERT INTO outbox (id, topic, aggregate_id, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.Topic, m.AggregateID, m.Payload, string(status), m.Attempts, m.NextAttemptAt, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", m.Topic, err)
	}
	return nil
}

// ClaimDue flips due rows to in_progress in one statement. SKIP LOCKED lets several relays
// drain the table without handing out the same message twice.
func (o *OutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	rows, err := o.s.db(ctx).Query(ctx, `
		UPDATE outbox SET status = 'in_progress', claimed_at = $1
		WHERE id IN (
			SELECT id FROM outbox
			WHERE (status = 'pending' AND next_attempt_at <= $1)
			   OR (status = 'in_progress' AND claimed_at < $2)
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, topic, aggregate_id, payload, status, attempts, last_error, next_attempt_at, created_at`,
		now, now.Add(-claimLease), limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m      domain.Message
			status string
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.AggregateID, &m.Payload, &status, &m.Attempts,
			&m.LastError, &m.NextAttemptAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		m.Status = domain.Status(status)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (o *OutboxStore) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := o.s.db(ctx).Exec(ctx, `UPDATE outbox SET status = 'sent', sent_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return nil
}

func (o *OutboxStore) MarkFailed(ctx context.Context, id string, errMsg string, next time.Time, dead bool) error {
	_, err := o.s.db(ctx).Exec(ctx, `
		UPDATE outbox SET
			attempts = attempts + 1,
			last_error = $2,
			next_attempt_at = $3,
			status = CASE WHEN $4 THEN 'failed' ELSE 'pending' END
		WHERE id = $1`, id, errMsg, next, dead)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
