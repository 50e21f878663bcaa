package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	domsettings "github.com/farmstand/storefront/internal/domain/settings"

	"github.com/jackc/pgx/v5"
)

type Ledger struct{ s *Store }

func (l *Ledger) Append(ctx context.Context, e dominv.Entry) error {
	if e.ProductID == "" {
		return dominv.ErrInvalidEntry
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := l.s.db(ctx).Exec(ctx, `
		INSERT INTO inventory_logs (id, product_id, change_type, quantity, previous_qty, new_qty, source, reference, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.ProductID, string(e.ChangeType), e.Quantity, e.PreviousQty, e.NewQty, e.Source, e.Reference, e.Notes, created)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// List returns newest entries first.
func (l *Ledger) List(ctx context.Context, filter dominv.Filter) ([]dominv.Entry, error) {
	rows, err := l.s.db(ctx).Query(ctx, `
		SELECT id, product_id, change_type, quantity, previous_qty, new_qty, source, reference, notes, created_at
		FROM inventory_logs
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)`, filter.ProductID, limitArg(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []dominv.Entry
	for rows.Next() {
		var (
			e      dominv.Entry
			change string
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &change, &e.Quantity, &e.PreviousQty, &e.NewQty,
			&e.Source, &e.Reference, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		e.ChangeType = dominv.ChangeType(change)
		out = append(out, e)
	}
	return out, rows.Err()
}

type SettingsRepository struct{ s *Store }

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.s.db(ctx).QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domsettings.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.s.db(ctx).Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

type EventLog struct{ s *Store }

// Record inserts the event id; a conflict means another delivery already committed it.
func (l *EventLog) Record(ctx context.Context, eventID string, eventType dompayment.EventType) (bool, error) {
	tag, err := l.s.db(ctx).Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, string(eventType))
	if err != nil {
		return false, fmt.Errorf("event log: record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
