package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/farmstand/storefront/internal/application"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	"github.com/farmstand/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	adminService = "order-admin"

	useCaseGet          = "order.admin.get"
	useCaseList         = "order.admin.list"
	useCaseUpdateStatus = "order.admin.update_status"

	defaultListLimit = 50
	maxListLimit     = 500
)

// ReservationReleaser frees stock held for an order that will never be paid.
type ReservationReleaser interface {
	Release(ctx context.Context, orderID string) error
}

// AdminService backs the order screens of the admin dashboard.
type AdminService struct {
	tx     application.Transactor
	orders domorder.Repository
	stock  ReservationReleaser
	inst   application.Instruments
}

func NewAdminService(tx application.Transactor, orders domorder.Repository, stock ReservationReleaser, tel observability.Observability) *AdminService {
	return &AdminService{
		tx:     tx,
		orders: orders,
		stock:  stock,
		inst:   application.NewInstruments(tel, adminService),
	}
}

// Get accepts either the internal id or the human order number.
func (s *AdminService) Get(ctx context.Context, ref string) (_ *domorder.Order, err error) {
	ctx, run := s.inst.Start(ctx, useCaseGet, "GetOrder", attribute.String("order.ref", ref))
	defer func() { run.End(err) }()

	ref = strings.TrimSpace(ref)
	if ref == "" {
		run.Fail("VALIDATION_FAILED")
		return nil, application.Invalid("Order id is required")
	}
	o, err := s.orders.Get(ctx, ref)
	if errors.Is(err, domorder.ErrNotFound) {
		o, err = s.orders.GetByNumber(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, domorder.ErrNotFound) {
			run.Fail("ORDER_NOT_FOUND")
		}
		return nil, err
	}
	return o, nil
}

type ListInput struct {
	Status string
	Limit  int
}

// List returns orders newest first.
func (s *AdminService) List(ctx context.Context, in ListInput) (_ []*domorder.Order, err error) {
	ctx, run := s.inst.Start(ctx, useCaseList, "ListOrders")
	defer func() { run.End(err) }()

	filter := domorder.ListFilter{Limit: in.Limit}
	if in.Status != "" {
		st, perr := domorder.ParseStatus(in.Status)
		if perr != nil {
			run.Fail("VALIDATION_FAILED")
			return nil, application.Invalid("Unknown status %q", in.Status)
		}
		filter.Status = st
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		run.Fail("ORDER_LIST_FAILED")
		return nil, err
	}
	run.Field("count", len(orders))
	return orders, nil
}

// UpdateStatus applies a manual status change. Cancelling an unpaid order gives its held stock
// back; cancelling a paid order leaves stock alone so the farm can decide what to restock.
func (s *AdminService) UpdateStatus(ctx context.Context, id, status string) (_ *domorder.Order, err error) {
	ctx, run := s.inst.Start(ctx, useCaseUpdateStatus, "UpdateOrderStatus",
		attribute.String("order.id", id),
		attribute.String("order.target_status", status),
	)
	defer func() { run.End(err) }()

	target, perr := domorder.ParseStatus(status)
	if perr != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, application.Invalid("Unknown status %q", status)
	}

	var out *domorder.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Lock(ctx, id)
		if err != nil {
			return err
		}
		wasPending := o.IsPending()
		from := o.Status
		if err := o.Advance(target); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("order admin: update: %w", err)
		}
		if target == domorder.StatusCancelled && wasPending {
			if err := s.stock.Release(ctx, o.ID); err != nil {
				return err
			}
		}
		run.Field("from_status", string(from))
		out = o
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domorder.ErrNotFound):
			run.Fail("ORDER_NOT_FOUND")
		case errors.Is(err, domorder.ErrInvalidStateTransition):
			run.Fail("STATE_TRANSITION_FAILED")
			return nil, application.Invalid("%s", err.Error())
		default:
			run.Fail("ORDER_UPDATE_FAILED")
		}
		return nil, err
	}
	run.Field("to_status", string(out.Status))
	return out, nil
}
