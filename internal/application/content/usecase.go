package content

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domlivestock "github.com/farmstand/storefront/internal/domain/livestock"
	domsettings "github.com/farmstand/storefront/internal/domain/settings"
	"github.com/farmstand/storefront/internal/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	contentService = "content-service"
	useCaseEdit    = "content.inline_edit"

	MaxEdits = 100
)

var (
	ErrUnsupportedType  = errors.New("content: unsupported type")
	ErrUnsupportedField = errors.New("content: field is not editable")
	ErrInvalidValue     = errors.New("content: invalid value")
)

type StockSetter interface {
	Set(ctx context.Context, productID string, qty int, source, notes string) (*appinventory.Change, error)
}

// Invalidator is notified after a setting changes so cached readers refetch.
type Invalidator interface {
	Invalidate()
}

// Edit is one inline change from the admin editor. Value carries whatever JSON produced.
type Edit struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

type EditResult struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Field string `json:"field"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type InlineEditUseCase struct {
	tx       application.Transactor
	settings domsettings.Repository
	cache    Invalidator
	products domcatalog.Repository
	stock    StockSetter
	animals  domlivestock.Repository
	inst     application.Instruments
}

func NewInlineEditUseCase(
	tx application.Transactor,
	settings domsettings.Repository,
	cache Invalidator,
	products domcatalog.Repository,
	stock StockSetter,
	animals domlivestock.Repository,
	tel observability.Observability,
) *InlineEditUseCase {
	return &InlineEditUseCase{
		tx:       tx,
		settings: settings,
		cache:    cache,
		products: products,
		stock:    stock,
		animals:  animals,
		inst:     application.NewInstruments(tel, contentService),
	}
}

// Execute applies each edit independently and reports per-edit results in input order.
func (uc *InlineEditUseCase) Execute(ctx context.Context, edits []Edit) (_ []EditResult, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseEdit, "InlineEdit", attribute.Int("content.edits", len(edits)))
	defer func() { run.End(err) }()

	if len(edits) == 0 {
		run.Fail("VALIDATION_FAILED")
		return nil, application.Invalid("No edits supplied")
	}
	if len(edits) > MaxEdits {
		run.Fail("VALIDATION_FAILED")
		return nil, application.Invalid("At most %d edits per request", MaxEdits)
	}

	out := make([]EditResult, 0, len(edits))
	failed, settingsChanged := 0, false
	for _, e := range edits {
		res := EditResult{Type: e.Type, ID: e.ID, Field: e.Field, OK: true}
		var aerr error
		switch strings.ToLower(e.Type) {
		case "setting":
			if aerr = uc.editSetting(ctx, e); aerr == nil {
				settingsChanged = true
			}
		case "product":
			aerr = uc.editProduct(ctx, e)
		case "animal":
			aerr = uc.editAnimal(ctx, e)
		default:
			aerr = fmt.Errorf("%w: %q", ErrUnsupportedType, e.Type)
		}
		if aerr != nil {
			failed++
			res.OK, res.Error = false, aerr.Error()
			run.Logger.Warn("inline_edit_rejected",
				observability.F("type", e.Type),
				observability.F("id", e.ID),
				observability.F("field", e.Field),
				observability.F("error", aerr.Error()),
			)
		}
		out = append(out, res)
	}
	if settingsChanged && uc.cache != nil {
		uc.cache.Invalidate()
	}
	run.Field("failed", failed)
	if failed > 0 {
		run.Status("PARTIAL")
	}
	return out, nil
}

func (uc *InlineEditUseCase) editSetting(ctx context.Context, e Edit) error {
	key := strings.TrimSpace(e.ID)
	if key == "" {
		return fmt.Errorf("%w: setting key is required", ErrInvalidValue)
	}
	var value string
	switch key {
	case domsettings.KeyDeliveryFee, domsettings.KeyTaxRate:
		d, err := asDecimal(e.Value)
		if err != nil {
			return err
		}
		if d.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, key)
		}
		if key == domsettings.KeyTaxRate && d.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: tax_rate is a fraction of the subtotal", ErrInvalidValue)
		}
		value = d.String()
	default:
		s, err := asString(e.Value)
		if err != nil {
			return err
		}
		value = s
	}
	return uc.settings.Set(ctx, key, value)
}

func (uc *InlineEditUseCase) editProduct(ctx context.Context, e Edit) error {
	if e.Field == "stockQuantity" {
		qty, err := asInt(e.Value)
		if err != nil {
			return err
		}
		_, err = uc.stock.Set(ctx, e.ID, qty, dominv.SourceAdminInline, "inline edit")
		return err
	}

	apply, err := productSetter(e.Field, e.Value)
	if err != nil {
		return err
	}
	return uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := uc.products.LockByIDs(ctx, []string{e.ID})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return &domcatalog.NotFoundError{IDs: []string{e.ID}}
		}
		p := locked[0]
		if err := apply(p); err != nil {
			return err
		}
		return uc.products.Update(ctx, p)
	})
}

func productSetter(field string, v any) (func(*domcatalog.Product) error, error) {
	switch field {
	case "name", "description", "unit", "category", "subcategory":
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return func(p *domcatalog.Product) error {
			switch field {
			case "name":
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("%w: name must not be empty", ErrInvalidValue)
				}
				p.Name = s
			case "description":
				p.Description = s
			case "unit":
				p.Unit = s
			case "category":
				p.Category = s
			case "subcategory":
				p.Subcategory = s
			}
			return nil
		}, nil
	case "price":
		d, err := asDecimal(v)
		if err != nil {
			return nil, err
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("%w: price must be positive", ErrInvalidValue)
		}
		return func(p *domcatalog.Product) error { p.Price = d.Round(2); return nil }, nil
	case "lowStockThreshold", "preorderLimit":
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, field)
		}
		return func(p *domcatalog.Product) error {
			if field == "lowStockThreshold" {
				p.LowStockThreshold = n
			} else {
				p.PreorderLimit = n
			}
			return nil
		}, nil
	case "preorderEnabled":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: preorderEnabled must be a boolean", ErrInvalidValue)
		}
		return func(p *domcatalog.Product) error { p.PreorderEnabled = b; return nil }, nil
	}
	return nil, fmt.Errorf("%w: product.%s", ErrUnsupportedField, field)
}

func (uc *InlineEditUseCase) editAnimal(ctx context.Context, e Edit) error {
	a, err := uc.animals.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	switch e.Field {
	case "name", "description", "status", "breed":
		s, err := asString(e.Value)
		if err != nil {
			return err
		}
		switch e.Field {
		case "name":
			a.Name = s
		case "description":
			a.Description = s
		case "status":
			a.Status = s
		case "breed":
			a.Breed = s
		}
	case "price":
		if e.Value == nil {
			a.Price = nil
			break
		}
		d, err := asDecimal(e.Value)
		if err != nil {
			return err
		}
		if d.IsNegative() {
			return fmt.Errorf("%w: price must not be negative", ErrInvalidValue)
		}
		a.Price = &d
	default:
		return fmt.Errorf("%w: animal.%s", ErrUnsupportedField, e.Field)
	}
	return uc.animals.Update(ctx, a)
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("%w: expected text", ErrInvalidValue)
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, t)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	}
	return decimal.Zero, fmt.Errorf("%w: expected a number", ErrInvalidValue)
}

// asInt accepts whole numbers that fit the INTEGER columns they are stored in.
func asInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: expected a whole number", ErrInvalidValue)
		}
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %.0f is out of range", ErrInvalidValue, t)
		}
		return int(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a whole number in range", ErrInvalidValue, t)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: expected a whole number", ErrInvalidValue)
}
