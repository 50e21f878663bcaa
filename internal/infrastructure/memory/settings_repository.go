package memory

import (
	"context"

	domain "github.com/farmstand/storefront/internal/domain/settings"
)

type SettingsRepository struct{ s *Store }

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := r.s.run(ctx, func(st *state) error {
		v, ok := st.settings[key]
		if !ok {
			return domain.ErrNotFound
		}
		out = v
		return nil
	})
	return out, err
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	return r.s.run(ctx, func(st *state) error {
		st.settings[key] = value
		return nil
	})
}
