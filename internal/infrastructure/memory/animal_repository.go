package memory

import (
	"context"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/livestock"
)

type AnimalRepository struct{ s *Store }

func (r *AnimalRepository) UpsertByExternalID(ctx context.Context, a *domain.Animal) (*domain.Animal, error) {
	if a == nil || a.ExternalID == "" {
		return nil, domain.ErrMissingExternalID
	}
	var out *domain.Animal
	err := r.s.run(ctx, func(st *state) error {
		cp := a.Clone()
		if id, ok := st.externals[a.ExternalID]; ok {
			existing := st.animals[id]
			cp.ID = existing.ID
			cp.Photos = existing.Photos
		}
		cp.UpdatedAt = time.Now().UTC()
		st.animals[cp.ID] = cp
		st.externals[cp.ExternalID] = cp.ID
		out = cp.Clone()
		return nil
	})
	return out, err
}

func (r *AnimalRepository) Get(ctx context.Context, id string) (*domain.Animal, error) {
	var out *domain.Animal
	err := r.s.run(ctx, func(st *state) error {
		a, ok := st.animals[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r *AnimalRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Animal, error) {
	var out *domain.Animal
	err := r.s.run(ctx, func(st *state) error {
		id, ok := st.externals[externalID]
		if !ok {
			return domain.ErrNotFound
		}
		out = st.animals[id].Clone()
		return nil
	})
	return out, err
}

func (r *AnimalRepository) Update(ctx context.Context, a *domain.Animal) error {
	return r.s.run(ctx, func(st *state) error {
		if _, ok := st.animals[a.ID]; !ok {
			return domain.ErrNotFound
		}
		cp := a.Clone()
		cp.UpdatedAt = time.Now().UTC()
		st.animals[a.ID] = cp
		return nil
	})
}

func (r *AnimalRepository) AddPhoto(ctx context.Context, p domain.Photo) error {
	return r.s.run(ctx, func(st *state) error {
		a, ok := st.animals[p.AnimalID]
		if !ok {
			return domain.ErrNotFound
		}
		a.Photos = append(a.Photos, p)
		return nil
	})
}
