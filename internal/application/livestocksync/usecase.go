package livestocksync

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domlivestock "github.com/farmstand/storefront/internal/domain/livestock"
	"github.com/farmstand/storefront/internal/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	syncService = "sync-service"
	useCaseSync = "sync.ingest"

	MaxPhotoBytes = 10 << 20
)

type Type string

const (
	TypeAnimals   Type = "animals"
	TypeInventory Type = "inventory"
	TypePhotos    Type = "photos"
	TypeFull      Type = "full"
)

var photoExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// StockSetter overwrites on-hand stock through the ledgered path.
type StockSetter interface {
	Set(ctx context.Context, productID string, qty int, source, notes string) (*appinventory.Change, error)
}

type AnimalInput struct {
	ExternalID  string
	Name        string
	Species     string
	Breed       string
	Sex         string
	DateOfBirth string // YYYY-MM-DD
	Status      string
	Description string
	Price       *decimal.Decimal
}

type InventoryInput struct {
	ProductSlug string
	Quantity    int
}

type PhotoInput struct {
	AnimalID string // external id
	Filename string
	Data     string // base64, data: URL prefix allowed
}

type Input struct {
	Secret    string
	Type      string
	Animals   []AnimalInput
	Inventory []InventoryInput
	Photos    []PhotoInput
}

type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type Section struct {
	Synced []string    `json:"synced"`
	Errors []ItemError `json:"errors"`
}

func newSection() *Section { return &Section{Synced: []string{}, Errors: []ItemError{}} }

func (s *Section) fail(id string, err error) {
	s.Errors = append(s.Errors, ItemError{ID: id, Error: err.Error()})
}

type Result struct {
	Animals   *Section `json:"animals,omitempty"`
	Inventory *Section `json:"inventory,omitempty"`
	Photos    *Section `json:"photos,omitempty"`
}

// IngestUseCase applies pushes from the herd-management system. Items are independent:
// one bad record is reported and the rest of the batch still lands.
type IngestUseCase struct {
	secret   []byte
	animals  domlivestock.Repository
	products domcatalog.Repository
	stock    StockSetter
	photos   domlivestock.PhotoStorage
	ids      application.IDGenerator
	now      func() time.Time
	inst     application.Instruments
}

// NewIngestUseCase requires a non-empty shared secret; there is no built-in fallback.
func NewIngestUseCase(
	secret string,
	animals domlivestock.Repository,
	products domcatalog.Repository,
	stock StockSetter,
	photos domlivestock.PhotoStorage,
	ids application.IDGenerator,
	tel observability.Observability,
) (*IngestUseCase, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("sync: shared secret is not configured")
	}
	return &IngestUseCase{
		secret:   []byte(secret),
		animals:  animals,
		products: products,
		stock:    stock,
		photos:   photos,
		ids:      ids,
		now:      time.Now,
		inst:     application.NewInstruments(tel, syncService),
	}, nil
}

func (uc *IngestUseCase) Execute(ctx context.Context, in Input) (_ *Result, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseSync, "IngestSync", attribute.String("sync.type", in.Type))
	defer func() { run.End(err) }()

	if subtle.ConstantTimeCompare([]byte(in.Secret), uc.secret) != 1 {
		run.Fail("UNAUTHORIZED")
		return nil, application.ErrUnauthorized
	}

	res := &Result{}
	switch t := Type(strings.ToLower(strings.TrimSpace(in.Type))); t {
	case TypeAnimals:
		res.Animals = uc.syncAnimals(ctx, in.Animals)
	case TypeInventory:
		res.Inventory = uc.syncInventory(ctx, in.Inventory)
	case TypePhotos:
		res.Photos = uc.syncPhotos(ctx, in.Photos)
	case TypeFull:
		// animals first so photos in the same push can find them
		res.Animals = uc.syncAnimals(ctx, in.Animals)
		res.Inventory = uc.syncInventory(ctx, in.Inventory)
		res.Photos = uc.syncPhotos(ctx, in.Photos)
	default:
		run.Fail("VALIDATION_FAILED")
		return nil, application.Invalid("Unknown sync type %q", in.Type)
	}

	synced, failed := 0, 0
	for _, s := range []*Section{res.Animals, res.Inventory, res.Photos} {
		if s != nil {
			synced += len(s.Synced)
			failed += len(s.Errors)
		}
	}
	run.Field("synced", synced)
	run.Field("failed", failed)
	if failed > 0 {
		run.Status("PARTIAL")
	}
	return res, nil
}

func (uc *IngestUseCase) syncAnimals(ctx context.Context, items []AnimalInput) *Section {
	sec := newSection()
	for _, in := range items {
		id := strings.TrimSpace(in.ExternalID)
		if id == "" {
			sec.fail("", domlivestock.ErrMissingExternalID)
			continue
		}
		a := &domlivestock.Animal{
			ID:          uc.ids.NewID(),
			ExternalID:  id,
			Name:        strings.TrimSpace(in.Name),
			Species:     in.Species,
			Breed:       in.Breed,
			Sex:         in.Sex,
			Status:      in.Status,
			Description: in.Description,
			Price:       in.Price,
			SyncedAt:    uc.now().UTC(),
		}
		if in.DateOfBirth != "" {
			dob, err := time.Parse(time.DateOnly, in.DateOfBirth)
			if err != nil {
				sec.fail(id, fmt.Errorf("invalid dateOfBirth %q", in.DateOfBirth))
				continue
			}
			a.DateOfBirth = &dob
		}
		if in.Price != nil && in.Price.IsNegative() {
			sec.fail(id, errors.New("price must not be negative"))
			continue
		}
		if _, err := uc.animals.UpsertByExternalID(ctx, a); err != nil {
			sec.fail(id, err)
			continue
		}
		sec.Synced = append(sec.Synced, id)
	}
	return sec
}

func (uc *IngestUseCase) syncInventory(ctx context.Context, items []InventoryInput) *Section {
	sec := newSection()
	for _, in := range items {
		slug := strings.TrimSpace(in.ProductSlug)
		if in.Quantity < 0 {
			sec.fail(slug, domcatalog.ErrNegativeStock)
			continue
		}
		p, err := uc.products.FindBySlug(ctx, slug)
		if err != nil {
			sec.fail(slug, err)
			continue
		}
		if _, err := uc.stock.Set(ctx, p.ID, in.Quantity, dominv.SourceLivestockSync, "external sync"); err != nil {
			sec.fail(slug, err)
			continue
		}
		sec.Synced = append(sec.Synced, slug)
	}
	return sec
}

func (uc *IngestUseCase) syncPhotos(ctx context.Context, items []PhotoInput) *Section {
	sec := newSection()
	for _, in := range items {
		ref := in.AnimalID + "/" + in.Filename
		if err := uc.syncPhoto(ctx, in); err != nil {
			sec.fail(ref, err)
			continue
		}
		sec.Synced = append(sec.Synced, ref)
	}
	return sec
}

func (uc *IngestUseCase) syncPhoto(ctx context.Context, in PhotoInput) error {
	if uc.photos == nil {
		return fmt.Errorf("%w: photo storage is not configured", domlivestock.ErrInvalidPhoto)
	}
	name := filepath.Base(strings.TrimSpace(in.Filename))
	ext := strings.ToLower(filepath.Ext(name))
	if !photoExtensions[ext] {
		return fmt.Errorf("%w: unsupported file type %q", domlivestock.ErrInvalidPhoto, ext)
	}
	data, err := decodePhoto(in.Data)
	if err != nil {
		return err
	}

	animal, err := uc.animals.GetByExternalID(ctx, strings.TrimSpace(in.AnimalID))
	if err != nil {
		return err
	}

	photoID := uc.ids.NewID()
	url, err := uc.photos.Save(ctx, animal.ID+"-"+photoID+ext, data)
	if err != nil {
		return fmt.Errorf("sync: store photo: %w", err)
	}
	return uc.animals.AddPhoto(ctx, domlivestock.Photo{
		ID:        photoID,
		AnimalID:  animal.ID,
		Filename:  name,
		URL:       url,
		CreatedAt: uc.now().UTC(),
	})
}

func decodePhoto(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, ";base64,"); strings.HasPrefix(raw, "data:") && i >= 0 {
		raw = raw[i+len(";base64,"):]
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty data", domlivestock.ErrInvalidPhoto)
	}
	if base64.StdEncoding.DecodedLen(len(raw)) > MaxPhotoBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", domlivestock.ErrInvalidPhoto, MaxPhotoBytes)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domlivestock.ErrInvalidPhoto, err)
	}
	return data, nil
}
