package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/farmstand/storefront/internal/application"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const inventoryService = "inventory-service"

// StockService is the only writer of product stock. Every change runs in a transaction,
// keeps stock non-negative, and lands in the inventory ledger.
type StockService struct {
	tx           application.Transactor
	products     domcatalog.Repository
	reservations domcatalog.ReservationRepository
	ledger       dominv.Ledger
	outbox       domoutbox.Enqueuer
	ids          application.IDGenerator

	inst     application.Instruments
	mutation observability.Counter // stock_mutations_total{change_type,source}
}

func NewStockService(
	tx application.Transactor,
	products domcatalog.Repository,
	reservations domcatalog.ReservationRepository,
	ledger dominv.Ledger,
	outbox domoutbox.Enqueuer,
	ids application.IDGenerator,
	tel observability.Observability,
) *StockService {
	tel = observability.OrNop(tel)
	return &StockService{
		tx:           tx,
		products:     products,
		reservations: reservations,
		ledger:       ledger,
		outbox:       outbox,
		ids:          ids,
		inst:         application.NewInstruments(tel, inventoryService),
		mutation:     tel.Metrics().Counter(observability.MStockMutations),
	}
}

type Line struct {
	ProductID string
	Quantity  int
}

// Reserved is one decided line: the product as it was when reserved and whether it is a pre-order.
type Reserved struct {
	Product  *domcatalog.Product
	Quantity int
	Preorder bool
}

// Reserve holds stock for every line or for none. A line that cannot be covered by stock
// falls back to pre-order capacity when the product accepts pre-orders.
func (s *StockService) Reserve(ctx context.Context, orderID string, lines []Line, expiresAt time.Time) (_ []Reserved, err error) {
	ctx, run := s.inst.Start(ctx, "inventory.reserve", "ReserveStock",
		attribute.String("order.id", orderID),
		attribute.Int("order.lines", len(lines)),
	)
	defer func() { run.End(err) }()

	var out []Reserved
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		byID, err := s.lock(ctx, lineIDs(lines))
		if err != nil {
			return err
		}
		var missing []string
		for _, l := range lines {
			if _, ok := byID[l.ProductID]; !ok {
				missing = append(missing, l.ProductID)
			}
		}
		if len(missing) > 0 {
			return &domcatalog.NotFoundError{IDs: missing}
		}

		now := time.Now().UTC()
		out = make([]Reserved, 0, len(lines))
		rows := make([]domcatalog.Reservation, 0, len(lines))
		for _, l := range lines {
			p := byID[l.ProductID]
			snapshot := p.Clone()
			preorder := false
			if rerr := p.Reserve(l.Quantity); rerr != nil {
				if !errors.Is(rerr, domcatalog.ErrInsufficientStock) || !p.PreorderEnabled {
					return rerr
				}
				if perr := p.ReservePreorder(l.Quantity); perr != nil {
					return rerr
				}
				preorder = true
			}
			out = append(out, Reserved{Product: snapshot, Quantity: l.Quantity, Preorder: preorder})
			rows = append(rows, domcatalog.Reservation{
				OrderID:   orderID,
				ProductID: p.ID,
				Quantity:  l.Quantity,
				Preorder:  preorder,
				ExpiresAt: expiresAt,
				CreatedAt: now,
			})
		}
		if err := s.updateAll(ctx, byID); err != nil {
			return err
		}
		return s.reservations.Insert(ctx, rows)
	})
	if err != nil {
		switch {
		case errors.Is(err, domcatalog.ErrNotFound):
			run.Fail("PRODUCT_NOT_FOUND")
		case errors.Is(err, domcatalog.ErrInsufficientStock):
			run.Fail("INSUFFICIENT_STOCK")
		default:
			run.Fail("RESERVE_FAILED")
		}
		return nil, err
	}
	return out, nil
}

// Release returns everything held for the order. Releasing twice is a no-op.
func (s *StockService) Release(ctx context.Context, orderID string) (err error) {
	ctx, run := s.inst.Start(ctx, "inventory.release", "ReleaseStock",
		attribute.String("order.id", orderID),
	)
	defer func() { run.End(err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		held, err := s.reservations.FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			run.Status("NOTHING_HELD")
			return nil
		}
		byID, err := s.lock(ctx, reservationIDs(held))
		if err != nil {
			return err
		}
		for _, r := range held {
			if p, ok := byID[r.ProductID]; ok {
				p.Release(r.Quantity, r.Preorder)
			}
		}
		if err := s.updateAll(ctx, byID); err != nil {
			return err
		}
		run.Field("released_lines", len(held))
		return s.reservations.DeleteByOrder(ctx, orderID)
	})
}

// CommitOrder applies a paid order to stock. Reserved units are converted; unreserved units
// are taken only if still available. Lines that cannot be covered are returned as shortfalls
// and leave stock untouched.
func (s *StockService) CommitOrder(ctx context.Context, o *domorder.Order) (_ []domorder.ShortfallLine, err error) {
	ctx, run := s.inst.Start(ctx, "inventory.commit_order", "CommitOrderStock",
		attribute.String("order.id", o.ID),
		attribute.String("order.number", o.OrderNumber),
	)
	defer func() { run.End(err) }()

	var shortfalls []domorder.ShortfallLine
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		held, err := s.reservations.FindByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		reserved := make(map[string]domcatalog.Reservation, len(held))
		for _, r := range held {
			reserved[r.ProductID] = r
		}

		ids := make([]string, 0, len(o.Items))
		for _, it := range o.Items {
			ids = append(ids, it.ProductID)
		}
		byID, err := s.lock(ctx, ids)
		if err != nil {
			return err
		}

		for _, it := range o.Items {
			p, ok := byID[it.ProductID]
			if !ok {
				shortfalls = append(shortfalls, domorder.ShortfallLine{ProductID: it.ProductID, Name: it.ProductName, Requested: it.Quantity})
				continue
			}
			res, hasRes := reserved[it.ProductID]
			if hasRes && res.Preorder != it.IsPreorder {
				p.Release(res.Quantity, res.Preorder)
				hasRes = false
			}

			if it.IsPreorder {
				before := p.PreorderCount
				if cerr := p.CommitPreorder(it.Quantity, hasRes); cerr != nil {
					shortfalls = append(shortfalls, shortfall(p, it, p.PreorderAvailable()))
					continue
				}
				if err := s.record(ctx, p, dominv.ChangePreorder, before, p.PreorderCount, dominv.SourceCheckout, o.OrderNumber, ""); err != nil {
					return err
				}
				continue
			}

			before := p.StockQuantity
			var cerr error
			if hasRes {
				cerr = p.CommitReserved(it.Quantity)
			} else {
				cerr = p.Deduct(it.Quantity)
			}
			if cerr != nil {
				if hasRes {
					p.Release(res.Quantity, false)
				}
				shortfalls = append(shortfalls, shortfall(p, it, p.Available()))
				continue
			}
			if err := s.record(ctx, p, dominv.ChangeOrderDeduct, before, p.StockQuantity, dominv.SourceCheckout, o.OrderNumber, ""); err != nil {
				return err
			}
			if err := s.alertLowStock(ctx, p); err != nil {
				return err
			}
		}

		// reservations that did not match an item (should not happen) are still released
		for _, r := range held {
			if p, ok := byID[r.ProductID]; ok && !orderHasProduct(o, r.ProductID) {
				p.Release(r.Quantity, r.Preorder)
			}
		}
		if err := s.updateAll(ctx, byID); err != nil {
			return err
		}
		return s.reservations.DeleteByOrder(ctx, o.ID)
	})
	if err != nil {
		run.Fail("COMMIT_FAILED")
		return nil, err
	}
	if len(shortfalls) > 0 {
		run.Status("STOCK_SHORTFALL")
		run.Field("shortfall_lines", len(shortfalls))
	}
	return shortfalls, nil
}

// Change is the before/after view of a single manual stock change.
type Change struct {
	Product *domcatalog.Product
	Entry   dominv.Entry
}

// Set overwrites the on-hand quantity (sync ingestion, admin edits).
func (s *StockService) Set(ctx context.Context, productID string, qty int, source, notes string) (_ *Change, err error) {
	ctx, run := s.inst.Start(ctx, "inventory.set", "SetStock",
		attribute.String("product.id", productID),
		attribute.Int("stock.quantity", qty),
		attribute.String("stock.source", source),
	)
	defer func() { run.End(err) }()

	return s.mutate(ctx, run, productID, dominv.ChangeSet, source, notes, func(p *domcatalog.Product) error {
		return p.SetStock(qty)
	})
}

// Adjust applies a signed delta (admin corrections, restocks, spoilage).
func (s *StockService) Adjust(ctx context.Context, productID string, delta int, source, notes string) (_ *Change, err error) {
	ctx, run := s.inst.Start(ctx, "inventory.adjust", "AdjustStock",
		attribute.String("product.id", productID),
		attribute.Int("stock.delta", delta),
		attribute.String("stock.source", source),
	)
	defer func() { run.End(err) }()

	if delta == 0 {
		run.Fail("ZERO_DELTA")
		return nil, domcatalog.ErrInvalidQuantity
	}
	return s.mutate(ctx, run, productID, dominv.ChangeManualAdjust, source, notes, func(p *domcatalog.Product) error {
		return p.AdjustStock(delta)
	})
}

func (s *StockService) mutate(
	ctx context.Context,
	run *application.Run,
	productID string,
	change dominv.ChangeType,
	source, notes string,
	apply func(*domcatalog.Product) error,
) (*Change, error) {
	var out *Change
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		byID, err := s.lock(ctx, []string{productID})
		if err != nil {
			return err
		}
		p, ok := byID[productID]
		if !ok {
			return &domcatalog.NotFoundError{IDs: []string{productID}}
		}
		before := p.StockQuantity
		if err := apply(p); err != nil {
			return err
		}
		if err := s.products.Update(ctx, p); err != nil {
			return fmt.Errorf("inventory: update product: %w", err)
		}
		entry, err := s.entry(p.ID, change, before, p.StockQuantity, source, "", notes)
		if err != nil {
			return err
		}
		if err := s.ledger.Append(ctx, entry); err != nil {
			return fmt.Errorf("inventory: append ledger: %w", err)
		}
		s.count(change, source)
		if err := s.alertLowStock(ctx, p); err != nil {
			return err
		}
		out = &Change{Product: p.Clone(), Entry: entry}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domcatalog.ErrNotFound):
			run.Fail("PRODUCT_NOT_FOUND")
		case errors.Is(err, domcatalog.ErrNegativeStock):
			run.Fail("NEGATIVE_STOCK")
		default:
			run.Fail("MUTATION_FAILED")
		}
		return nil, err
	}
	run.Field("previous_qty", out.Entry.PreviousQty)
	run.Field("new_qty", out.Entry.NewQty)
	return out, nil
}

func (s *StockService) record(ctx context.Context, p *domcatalog.Product, change dominv.ChangeType, before, after int, source, ref, notes string) error {
	entry, err := s.entry(p.ID, change, before, after, source, ref, notes)
	if err != nil {
		return err
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("inventory: append ledger: %w", err)
	}
	s.count(change, source)
	return nil
}

func (s *StockService) entry(productID string, change dominv.ChangeType, before, after int, source, ref, notes string) (dominv.Entry, error) {
	return dominv.NewEntry(s.ids.NewID(), productID, change, before, after, source, ref, notes)
}

// alertLowStock enqueues a notification whenever a change leaves stock at or below the threshold.
func (s *StockService) alertLowStock(ctx context.Context, p *domcatalog.Product) error {
	if s.outbox == nil || !p.IsLowStock() {
		return nil
	}
	msg, err := domoutbox.NewMessage(s.ids.NewID(), p.ID,
		dominv.NewLowStockEvent(p.ID, p.Name, p.StockQuantity, p.LowStockThreshold))
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, msg)
}

func (s *StockService) count(change dominv.ChangeType, source string) {
	if s.mutation != nil {
		s.mutation.Add(1,
			observability.L("change_type", string(change)),
			observability.L("source", source),
		)
	}
}

// lock loads products in a stable id order so concurrent transactions lock rows consistently.
func (s *StockService) lock(ctx context.Context, ids []string) (map[string]*domcatalog.Product, error) {
	ids = dedupe(ids)
	sort.Strings(ids)
	products, err := s.products.LockByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("inventory: lock products: %w", err)
	}
	byID := make(map[string]*domcatalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func (s *StockService) updateAll(ctx context.Context, byID map[string]*domcatalog.Product) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.products.Update(ctx, byID[id]); err != nil {
			return fmt.Errorf("inventory: update product %s: %w", id, err)
		}
	}
	return nil
}

func shortfall(p *domcatalog.Product, it domorder.Item, available int) domorder.ShortfallLine {
	return domorder.ShortfallLine{ProductID: p.ID, Name: it.ProductName, Requested: it.Quantity, Available: available}
}

func orderHasProduct(o *domorder.Order, productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

func lineIDs(lines []Line) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

func reservationIDs(rs []domcatalog.Reservation) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ProductID)
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
