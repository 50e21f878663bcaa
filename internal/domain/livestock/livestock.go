package livestock

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("livestock: animal not found")
	ErrMissingExternalID = errors.New("livestock: external id is required")
	ErrInvalidPhoto      = errors.New("livestock: invalid photo")
)

// Animal mirrors a record in the herd-management system, keyed by ExternalID.
type Animal struct {
	ID          string
	ExternalID  string
	Name        string
	Species     string
	Breed       string
	Sex         string
	DateOfBirth *time.Time
	Status      string
	Description string
	Price       *decimal.Decimal
	Photos      []Photo
	SyncedAt    time.Time
	UpdatedAt   time.Time
}

type Photo struct {
	ID        string
	AnimalID  string
	Filename  string
	URL       string
	CreatedAt time.Time
}

func (a *Animal) Clone() *Animal {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Photos = append([]Photo(nil), a.Photos...)
	if a.Price != nil {
		p := *a.Price
		cp.Price = &p
	}
	if a.DateOfBirth != nil {
		d := *a.DateOfBirth
		cp.DateOfBirth = &d
	}
	return &cp
}

type Repository interface {
	// UpsertByExternalID creates or overwrites the animal, keeping its internal id and photos.
	UpsertByExternalID(ctx context.Context, a *Animal) (*Animal, error)
	Get(ctx context.Context, id string) (*Animal, error)
	GetByExternalID(ctx context.Context, externalID string) (*Animal, error)
	Update(ctx context.Context, a *Animal) error
	AddPhoto(ctx context.Context, p Photo) error
}

// PhotoStorage persists image bytes and returns a public URL.
type PhotoStorage interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
}
