package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	appcatalog "github.com/farmstand/storefront/internal/application/catalog"
	appcheckout "github.com/farmstand/storefront/internal/application/checkout"
	appcontent "github.com/farmstand/storefront/internal/application/content"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	apporder "github.com/farmstand/storefront/internal/application/order"
	apppayment "github.com/farmstand/storefront/internal/application/payment"
	appsync "github.com/farmstand/storefront/internal/application/livestocksync"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"

	maxJSONBody = 1 << 20
	maxSyncBody = 32 << 20
)

type Checkout interface {
	Execute(ctx context.Context, in appcheckout.Input) (*appcheckout.Result, error)
}

type Webhooks interface {
	Execute(ctx context.Context, in apppayment.Input) (*apppayment.Result, error)
}

type Sync interface {
	Execute(ctx context.Context, in appsync.Input) (*appsync.Result, error)
}

type Orders interface {
	Get(ctx context.Context, ref string) (*domorder.Order, error)
	List(ctx context.Context, in apporder.ListInput) ([]*domorder.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*domorder.Order, error)
}

type Stock interface {
	Set(ctx context.Context, productID string, qty int, source, notes string) (*appinventory.Change, error)
	Adjust(ctx context.Context, productID string, delta int, source, notes string) (*appinventory.Change, error)
}

type Content interface {
	Execute(ctx context.Context, edits []appcontent.Edit) ([]appcontent.EditResult, error)
}

type Products interface {
	List(ctx context.Context) ([]*domcatalog.Product, error)
	FindBySlug(ctx context.Context, slug string) (*domcatalog.Product, error)
}

type Catalog interface {
	Create(ctx context.Context, in appcatalog.CreateInput) (*domcatalog.Product, error)
}

type InventoryLog interface {
	List(ctx context.Context, filter dominv.Filter) ([]dominv.Entry, error)
}

// Services is everything the router dispatches to.
type Services struct {
	Checkout     Checkout
	Webhooks     Webhooks
	Sync         Sync
	Orders       Orders
	Stock        Stock
	Content      Content
	Products     Products
	Catalog      Catalog
	InventoryLog InventoryLog
}

type Handler struct {
	svc        Services
	adminToken []byte
	log        observability.Logger
	tel        observability.Observability
}

func NewHandler(svc Services, adminToken string, logger observability.Logger, tel observability.Observability) *Handler {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	return &Handler{
		svc:        svc,
		adminToken: []byte(adminToken),
		log:        baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:        observability.OrNop(tel),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	h.handle(r, http.MethodGet, "/health", h.handleHealth)

	h.handle(r, http.MethodPost, "/api/checkout", h.handleCheckout)
	h.handle(r, http.MethodPost, "/api/webhooks/stripe", h.handleStripeWebhook)
	h.handle(r, http.MethodPost, "/api/sync", h.handleSync)
	h.handle(r, http.MethodGet, "/api/products", h.handleListProducts)
	h.handle(r, http.MethodGet, "/api/products/{slug}", h.handleGetProduct)

	h.handle(r, http.MethodGet, "/api/admin/orders", h.admin(h.handleListOrders))
	h.handle(r, http.MethodGet, "/api/admin/orders/{id}", h.admin(h.handleGetOrder))
	h.handle(r, http.MethodPatch, "/api/admin/orders/{id}/status", h.admin(h.handleUpdateOrderStatus))
	h.handle(r, http.MethodPost, "/api/admin/products", h.admin(h.handleCreateProduct))
	h.handle(r, http.MethodPost, "/api/admin/products/{id}/stock", h.admin(h.handleUpdateStock))
	h.handle(r, http.MethodGet, "/api/admin/inventory-logs", h.admin(h.handleInventoryLogs))
	h.handle(r, http.MethodPost, "/api/admin/content", h.admin(h.handleContentEdits))

	return r
}

// handle wraps a route as Trace → Request Logger + Metrics → Access Log → Handler.
func (h *Handler) handle(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	route := method + " " + pattern
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			func(r *http.Request) string { return r.Header.Get(headerTenantID) },
			h.tel,
		)(
			h.withAccessLog(handler),
		),
	)
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// stable route template for low-cardinality labels
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("storefront.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest(err)
	}
	return nil
}

// badRequest turns a decoder failure into a message that does not echo Go type names.
func badRequest(err error) error {
	var maxErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxErr):
		return errors.New("Request body too large")
	case errors.Is(err, io.EOF):
		return errors.New("Request body is empty")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("Malformed JSON")
	case errors.As(err, &typeErr):
		return fmt.Errorf("Invalid value for %q", typeErr.Field)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return fmt.Errorf("Unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
	default:
		return errors.New("Invalid request body")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
