package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	"github.com/farmstand/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	catalogService = "catalog-admin"

	useCaseCreate = "catalog.admin.create_product"
)

// StockSetter records opening stock through the inventory funnel so it lands in the ledger.
type StockSetter interface {
	Set(ctx context.Context, productID string, qty int, source, notes string) (*appinventory.Change, error)
}

// AdminService lets the farm add products to the catalog.
type AdminService struct {
	tx       application.Transactor
	products domcatalog.Repository
	stock    StockSetter
	ids      application.IDGenerator
	inst     application.Instruments
}

func NewAdminService(
	tx application.Transactor,
	products domcatalog.Repository,
	stock StockSetter,
	ids application.IDGenerator,
	tel observability.Observability,
) *AdminService {
	return &AdminService{
		tx:       tx,
		products: products,
		stock:    stock,
		ids:      ids,
		inst:     application.NewInstruments(tel, catalogService),
	}
}

type CreateInput struct {
	Slug              string
	Name              string
	Description       string
	Price             decimal.Decimal
	Unit              string
	Category          string
	Subcategory       string
	StockQuantity     int
	LowStockThreshold int
	PreorderEnabled   bool
	PreorderLimit     int
}

// Create inserts a product with no stock, then sets the opening quantity so the first
// ledger entry explains where it came from.
func (s *AdminService) Create(ctx context.Context, in CreateInput) (_ *domcatalog.Product, err error) {
	ctx, run := s.inst.Start(ctx, useCaseCreate, "CreateProduct", attribute.String("product.name", in.Name))
	defer func() { run.End(err) }()

	p, err := s.build(in)
	if err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, err
	}

	out := p
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.products.Insert(ctx, p); err != nil {
			return err
		}
		if in.StockQuantity == 0 {
			return nil
		}
		change, err := s.stock.Set(ctx, p.ID, in.StockQuantity, dominv.SourceAdmin, "opening stock")
		if err != nil {
			return err
		}
		out = change.Product
		return nil
	})
	if err != nil {
		if errors.Is(err, domcatalog.ErrDuplicate) {
			run.Fail("DUPLICATE_PRODUCT")
			return nil, err
		}
		run.Fail("PRODUCT_CREATE_FAILED")
		return nil, fmt.Errorf("catalog admin: create %s: %w", p.Slug, err)
	}
	run.Field("product_id", out.ID)
	run.Field("slug", out.Slug)
	return out, nil
}

func (s *AdminService) build(in CreateInput) (*domcatalog.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, application.Invalid("Product name is required")
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return nil, application.Invalid("Product slug is required")
	}
	if !in.Price.IsPositive() {
		return nil, application.Invalid("Price must be greater than zero")
	}
	if in.StockQuantity < 0 || in.StockQuantity > math.MaxInt32 {
		return nil, application.Invalid("Stock quantity must be between 0 and %d", math.MaxInt32)
	}
	if in.LowStockThreshold < 0 || in.LowStockThreshold > math.MaxInt32 {
		return nil, application.Invalid("Low stock threshold must be between 0 and %d", math.MaxInt32)
	}
	if in.PreorderLimit < 0 || in.PreorderLimit > math.MaxInt32 {
		return nil, application.Invalid("Pre-order limit must be between 0 and %d", math.MaxInt32)
	}
	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = "each"
	}
	return &domcatalog.Product{
		ID:                s.ids.NewID(),
		Slug:              slug,
		Name:              name,
		Description:       strings.TrimSpace(in.Description),
		Price:             in.Price.Round(2),
		Unit:              unit,
		Category:          strings.TrimSpace(in.Category),
		Subcategory:       strings.TrimSpace(in.Subcategory),
		LowStockThreshold: in.LowStockThreshold,
		PreorderEnabled:   in.PreorderEnabled,
		PreorderLimit:     in.PreorderLimit,
	}, nil
}

// Slugify lowercases s and collapses every run of non-alphanumerics into a single dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
