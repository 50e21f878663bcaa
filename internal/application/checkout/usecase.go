package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domcustomer "github.com/farmstand/storefront/internal/domain/customer"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	domsettings "github.com/farmstand/storefront/internal/domain/settings"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService = "checkout-service"
	useCaseCheckout = "checkout.create_session"
	spanPrefix      = "UC."
	gatewayPeer     = "payment_gateway"
	gatewayEndpoint = "checkout.sessions.create"

	MaxItemQuantity = 100
)

// ErrPaymentUnavailable hides gateway details from the caller; the cause is logged.
var ErrPaymentUnavailable = errors.New("checkout: payment provider unavailable")

// ErrOrderClosed means the order was cancelled while its payment session was being created.
var ErrOrderClosed = errors.New("checkout: order is no longer pending")

// StockReserver is the slice of the stock service checkout needs.
type StockReserver interface {
	Reserve(ctx context.Context, orderID string, lines []appinventory.Line, expiresAt time.Time) ([]appinventory.Reserved, error)
	Release(ctx context.Context, orderID string) error
}

type PricingReader interface {
	Pricing(ctx context.Context) (domsettings.Pricing, error)
}

type Config struct {
	Currency          string
	BaseURL           string
	OrderNumberPrefix string
	ReservationTTL    time.Duration
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type Input struct {
	Items          []ItemInput
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	DeliveryMethod string
	Address        domorder.Address
	Notes          string
}

type Result struct {
	SessionID   string
	URL         string
	OrderNumber string
}

// CreateSessionUseCase turns a cart into a pending order with held stock and a hosted payment session.
type CreateSessionUseCase struct {
	tx        application.Transactor
	stock     StockReserver
	orders    domorder.Repository
	sequence  domorder.NumberSequence
	customers domcustomer.Repository
	pricing   PricingReader
	gateway   dompayment.Gateway
	ids       application.IDGenerator
	cfg       Config
	now       func() time.Time

	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewCreateSessionUseCase(
	tx application.Transactor,
	stock StockReserver,
	orders domorder.Repository,
	sequence domorder.NumberSequence,
	customers domcustomer.Repository,
	pricing PricingReader,
	gateway dompayment.Gateway,
	ids application.IDGenerator,
	cfg Config,
	tel observability.Observability,
) *CreateSessionUseCase {
	tel = observability.OrNop(tel)
	if cfg.OrderNumberPrefix == "" {
		cfg.OrderNumberPrefix = "BR"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 30 * time.Minute
	}
	metrics := tel.Metrics()
	return &CreateSessionUseCase{
		tx:           tx,
		stock:        stock,
		orders:       orders,
		sequence:     sequence,
		customers:    customers,
		pricing:      pricing,
		gateway:      gateway,
		ids:          ids,
		cfg:          cfg,
		now:          time.Now,
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", checkoutService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute validates the cart, reserves stock, records the pending order and opens a payment session.
func (uc *CreateSessionUseCase) Execute(ctx context.Context, in Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseCheckout))

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"CreateCheckoutSession",
		attribute.String("use_case", useCaseCheckout),
		attribute.Int("checkout.items", len(in.Items)),
		attribute.String("checkout.delivery_method", in.DeliveryMethod),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var orderID, orderNumber string
	var compensateErr error

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		if uc.reqCounter != nil {
			uc.reqCounter.Add(1,
				observability.L("use_case", useCaseCheckout),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseCheckout),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		fields = append(fields, logctx.TraceFields(ctx)...)
		if orderID != "" {
			fields = append(fields,
				observability.F("order_id", orderID),
				observability.F("order_number", orderNumber),
			)
		}
		if compensateErr != nil {
			fields = append(fields, observability.F("compensate_error", compensateErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	lines, method, verr := validate(in)
	if verr != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return nil, verr
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	pricing, perr := uc.pricing.Pricing(ctx)
	if perr != nil {
		outcome, statusText = "error", "SETTINGS_LOAD_FAILED"
		return nil, fmt.Errorf("checkout: load pricing: %w", perr)
	}

	seq, serr := uc.sequence.NextOrderNumber(ctx)
	if serr != nil {
		outcome, statusText = "error", "ORDER_NUMBER_FAILED"
		return nil, fmt.Errorf("checkout: next order number: %w", serr)
	}
	now := uc.now().UTC()
	orderID = uc.ids.NewID()
	orderNumber = domorder.FormatNumber(uc.cfg.OrderNumberPrefix, now.Year(), seq)
	expiresAt := now.Add(uc.cfg.ReservationTTL)

	var entity *domorder.Order
	txErr := uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		reserved, err := uc.stock.Reserve(ctx, orderID, lines, expiresAt)
		if err != nil {
			return err
		}

		items := make([]domorder.Item, 0, len(reserved))
		for _, r := range reserved {
			it, err := domorder.NewItem(uc.ids.NewID(), r.Product.ID, r.Product.Name, r.Product.Price, r.Quantity, r.Preorder)
			if err != nil {
				return err
			}
			items = append(items, it)
		}

		cust, err := uc.customers.Upsert(ctx, domcustomer.New(uc.ids.NewID(), in.CustomerEmail, in.CustomerName, in.CustomerPhone))
		if err != nil {
			return fmt.Errorf("checkout: upsert customer: %w", err)
		}

		entity, err = domorder.New(domorder.Params{
			ID:             orderID,
			OrderNumber:    orderNumber,
			CustomerID:     cust.ID,
			CustomerName:   strings.TrimSpace(in.CustomerName),
			CustomerEmail:  cust.Email,
			CustomerPhone:  strings.TrimSpace(in.CustomerPhone),
			DeliveryMethod: method,
			Address:        in.Address,
			Notes:          strings.TrimSpace(in.Notes),
			Items:          items,
			DeliveryFee:    pricing.DeliveryFee,
			TaxRate:        pricing.TaxRate,
		})
		if err != nil {
			return err
		}
		return uc.orders.Insert(ctx, entity)
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, application.ErrValidation):
			outcome, statusText = "error", "VALIDATION_FAILED"
		case isCatalogRejection(txErr):
			outcome, statusText = "error", "STOCK_REJECTED"
		default:
			outcome, statusText = "error", "ORDER_CREATE_FAILED"
		}
		return nil, txErr
	}

	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.number", orderNumber),
	)

	session, gwErr := uc.createSession(ctx, entity, expiresAt)
	if gwErr != nil {
		outcome, statusText = "error", "PAYMENT_SESSION_FAILED"
		compensateErr = uc.compensate(ctx, orderID)
		return nil, fmt.Errorf("%w: %w", ErrPaymentUnavailable, gwErr)
	}

	if err := uc.attachSession(ctx, orderID, session.ID); err != nil {
		outcome, statusText = "error", "SESSION_ATTACH_FAILED"
		if errors.Is(err, ErrOrderClosed) {
			statusText = "ORDER_CLOSED"
		}
		return nil, fmt.Errorf("checkout: attach session: %w", err)
	}

	span.AddEvent("order.pending",
		trace.WithAttributes(attribute.String("payment.session_id", session.ID)),
	)

	return &Result{SessionID: session.ID, URL: session.URL, OrderNumber: orderNumber}, nil
}

func (uc *CreateSessionUseCase) createSession(ctx context.Context, o *domorder.Order, expiresAt time.Time) (*dompayment.Session, error) {
	req := dompayment.SessionRequest{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerEmail: o.CustomerEmail,
		Currency:      uc.cfg.Currency,
		SuccessURL:    strings.TrimRight(uc.cfg.BaseURL, "/") + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     strings.TrimRight(uc.cfg.BaseURL, "/") + "/cart",
		ExpiresAt:     expiresAt,
	}
	for _, it := range o.Items {
		name := it.ProductName
		if it.IsPreorder {
			name += " (Pre-order)"
		}
		req.LineItems = append(req.LineItems, dompayment.LineItem{
			Name:       name,
			UnitAmount: dompayment.ToMinorUnits(it.ProductPrice),
			Quantity:   int64(it.Quantity),
		})
	}
	if o.DeliveryFee.IsPositive() {
		req.LineItems = append(req.LineItems, dompayment.LineItem{
			Name:       "Delivery",
			UnitAmount: dompayment.ToMinorUnits(o.DeliveryFee),
			Quantity:   1,
		})
	}
	if o.Tax.IsPositive() {
		req.LineItems = append(req.LineItems, dompayment.LineItem{
			Name:       "Tax",
			UnitAmount: dompayment.ToMinorUnits(o.Tax),
			Quantity:   1,
		})
	}

	start := time.Now()
	session, err := uc.gateway.CreateCheckoutSession(ctx, req)
	extOutcome := "success"
	if err != nil {
		extOutcome = "error"
	}
	if uc.extCounter != nil {
		uc.extCounter.Add(1,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
			observability.L("outcome", extOutcome),
		)
	}
	if uc.extHistogram != nil {
		uc.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
		)
	}
	return session, err
}

// compensate cancels the pending order and frees its stock after a gateway failure.
// attachSession re-reads the order under its row lock so a cancellation that landed during
// the gateway call is not overwritten.
func (uc *CreateSessionUseCase) attachSession(ctx context.Context, orderID, sessionID string) error {
	return uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := uc.orders.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.IsPending() {
			return ErrOrderClosed
		}
		o.AttachSession(sessionID)
		return uc.orders.Update(ctx, o)
	})
}

func (uc *CreateSessionUseCase) compensate(ctx context.Context, orderID string) error {
	ctx = context.WithoutCancel(ctx)
	return uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := uc.orders.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		if o.IsPending() {
			if err := o.Cancel(); err != nil {
				return err
			}
			o.RecordIssue("payment session could not be created")
			if err := uc.orders.Update(ctx, o); err != nil {
				return err
			}
		}
		return uc.stock.Release(ctx, orderID)
	})
}

func validate(in Input) ([]appinventory.Line, domorder.DeliveryMethod, error) {
	if len(in.Items) == 0 {
		return nil, "", application.Invalid("Cart is empty")
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return nil, "", application.Invalid("Name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.CustomerEmail)); err != nil {
		return nil, "", application.Invalid("A valid email is required")
	}

	method := domorder.DeliveryMethod(strings.ToLower(strings.TrimSpace(in.DeliveryMethod)))
	switch method {
	case domorder.DeliveryPickup:
	case domorder.DeliveryDelivery:
		a := in.Address
		if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" ||
			strings.TrimSpace(a.State) == "" || strings.TrimSpace(a.Zip) == "" {
			return nil, "", application.Invalid("Delivery address is incomplete")
		}
	default:
		return nil, "", application.Invalid("Delivery method must be pickup or delivery")
	}

	// duplicate product ids are merged so one product is reserved once
	merged := make(map[string]int, len(in.Items))
	seen := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, "", application.Invalid("Product id is required")
		}
		if it.Quantity < 1 || it.Quantity > MaxItemQuantity {
			return nil, "", application.Invalid("Quantity must be between 1 and %d", MaxItemQuantity)
		}
		if _, ok := merged[id]; !ok {
			seen = append(seen, id)
		}
		merged[id] += it.Quantity
	}
	lines := make([]appinventory.Line, 0, len(seen))
	for _, id := range seen {
		if merged[id] > MaxItemQuantity {
			return nil, "", application.Invalid("Quantity must be between 1 and %d", MaxItemQuantity)
		}
		lines = append(lines, appinventory.Line{ProductID: id, Quantity: merged[id]})
	}
	return lines, method, nil
}

func isCatalogRejection(err error) bool {
	return errors.Is(err, domcatalog.ErrNotFound) || errors.Is(err, domcatalog.ErrInsufficientStock)
}
