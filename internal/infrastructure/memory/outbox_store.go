package memory

import (
	"context"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/outbox"
)

type OutboxStore struct{ s *Store }

func (o *OutboxStore) Enqueue(ctx context.Context, m domain.Message) error {
	return o.s.run(ctx, func(st *state) error {
		if m.Status == "" {
			m.Status = domain.StatusPending
		}
		st.outbox = append(st.outbox, m)
		return nil
	})
}

func (o *OutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := o.s.run(ctx, func(st *state) error {
		for i := range st.outbox {
			m := &st.outbox[i]
			if m.Status != domain.StatusPending || m.NextAttemptAt.After(now) {
				continue
			}
			m.Status = domain.StatusInProgress
			out = append(out, *m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (o *OutboxStore) MarkSent(ctx context.Context, ids []string) error {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return o.s.run(ctx, func(st *state) error {
		for i := range st.outbox {
			if _, ok := want[st.outbox[i].ID]; ok {
				st.outbox[i].Status = domain.StatusSent
			}
		}
		return nil
	})
}

func (o *OutboxStore) MarkFailed(ctx context.Context, id string, errMsg string, next time.Time, dead bool) error {
	return o.s.run(ctx, func(st *state) error {
		for i := range st.outbox {
			m := &st.outbox[i]
			if m.ID != id {
				continue
			}
			m.Attempts++
			m.LastError = errMsg
			m.NextAttemptAt = next
			m.Status = domain.StatusPending
			if dead {
				m.Status = domain.StatusFailed
			}
		}
		return nil
	})
}

// Messages returns a copy of every message, for tests and diagnostics.
func (o *OutboxStore) Messages(ctx context.Context) []domain.Message {
	var out []domain.Message
	_ = o.s.run(ctx, func(st *state) error {
		out = append(out, st.outbox...)
		return nil
	})
	return out
}
