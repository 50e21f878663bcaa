package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/livestock"

	"github.com/jackc/pgx/v5"
)

const animalColumns = `id, external_id, name, species, breed, sex, date_of_birth, status, description,
	price::text, synced_at, updated_at`

type AnimalRepository struct{ s *Store }

func scanAnimal(row pgx.Row) (*domain.Animal, error) {
	var (
		a     domain.Animal
		price *string
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.Name, &a.Species, &a.Breed, &a.Sex, &a.DateOfBirth,
		&a.Status, &a.Description, &price, &a.SyncedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if price != nil {
		d, err := parseDecimal(*price)
		if err != nil {
			return nil, err
		}
		a.Price = &d
	}
	return &a, nil
}

func priceArg(a *domain.Animal) *string {
	if a.Price == nil {
		return nil
	}
	s := a.Price.String()
	return &s
}

func (r *AnimalRepository) UpsertByExternalID(ctx context.Context, a *domain.Animal) (*domain.Animal, error) {
	if a == nil || a.ExternalID == "" {
		return nil, domain.ErrMissingExternalID
	}
	synced := a.SyncedAt
	if synced.IsZero() {
		synced = time.Now().UTC()
	}
	out, err := scanAnimal(r.s.db(ctx).QueryRow(ctx, `
		INSERT INTO animals (id, external_id, name, species, breed, sex, date_of_birth, status, description, price, synced_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name, species = EXCLUDED.species, breed = EXCLUDED.breed, sex = EXCLUDED.sex,
			date_of_birth = EXCLUDED.date_of_birth, status = EXCLUDED.status, description = EXCLUDED.description,
			price = EXCLUDED.price, synced_at = EXCLUDED.synced_at, updated_at = now()
		RETURNING `+animalColumns,
		a.ID, a.ExternalID, a.Name, a.Species, a.Breed, a.Sex, a.DateOfBirth, a.Status, a.Description,
		priceArg(a), synced))
	if err != nil {
		return nil, fmt.Errorf("animal repository: upsert: %w", err)
	}
	if err := r.loadPhotos(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AnimalRepository) one(ctx context.Context, where string, arg any) (*domain.Animal, error) {
	a, err := scanAnimal(r.s.db(ctx).QueryRow(ctx, `SELECT `+animalColumns+` FROM animals WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadPhotos(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AnimalRepository) Get(ctx context.Context, id string) (*domain.Animal, error) {
	return r.one(ctx, `id = $1`, id)
}

func (r *AnimalRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Animal, error) {
	return r.one(ctx, `external_id = $1`, externalID)
}

func (r *AnimalRepository) Update(ctx context.Context, a *domain.Animal) error {
	tag, err := r.s.db(ctx).Exec(ctx, `
		UPDATE animals SET name = $2, species = $3, breed = $4, sex = $5, date_of_birth = $6,
			status = $7, description = $8, price = $9, updated_at = now()
		WHERE id = $1`,
		a.ID, a.Name, a.Species, a.Breed, a.Sex, a.DateOfBirth, a.Status, a.Description, priceArg(a))
	if err != nil {
		return fmt.Errorf("animal repository: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AnimalRepository) AddPhoto(ctx context.Context, p domain.Photo) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.s.db(ctx).Exec(ctx, `
		INSERT INTO animal_photos (id, animal_id, filename, url, created_at) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.AnimalID, p.Filename, p.URL, created)
	if pgCode(err) == "23503" {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("animal repository: add photo: %w", err)
	}
	return nil
}

func (r *AnimalRepository) loadPhotos(ctx context.Context, a *domain.Animal) error {
	rows, err := r.s.db(ctx).Query(ctx, `
		SELECT id, animal_id, filename, url, created_at FROM animal_photos
		WHERE animal_id = $1 ORDER BY created_at, id`, a.ID)
	if err != nil {
		return fmt.Errorf("animal repository: photos: %w", err)
	}
	defer rows.Close()

	a.Photos = nil
	for rows.Next() {
		var p domain.Photo
		if err := rows.Scan(&p.ID, &p.AnimalID, &p.Filename, &p.URL, &p.CreatedAt); err != nil {
			return err
		}
		a.Photos = append(a.Photos, p)
	}
	return rows.Err()
}
