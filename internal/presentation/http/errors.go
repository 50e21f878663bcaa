package httppresentation

import (
	"errors"
	"net/http"

	"github.com/farmstand/storefront/internal/application"
	appcheckout "github.com/farmstand/storefront/internal/application/checkout"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"
)

var errInternal = errors.New("internal error")

// writeDomainError maps use case failures to a status and a message that is safe to return.
// Anything unrecognised is logged with full detail and reported as a bare 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *application.ValidationError
	var notFound *domcatalog.NotFoundError
	var short *domcatalog.InsufficientStockError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr)
	case errors.As(err, &notFound):
		writeError(w, http.StatusBadRequest, notFound)
	case errors.As(err, &short):
		writeError(w, http.StatusBadRequest, short)
	case errors.Is(err, domcatalog.ErrNotFound),
		errors.Is(err, domcatalog.ErrInvalidQuantity),
		errors.Is(err, domcatalog.ErrNegativeStock),
		errors.Is(err, domcatalog.ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, application.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, application.ErrUnauthorized)
	case errors.Is(err, dompayment.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, errors.New("Webhook signature verification failed"))
	case errors.Is(err, dompayment.ErrLocked):
		writeError(w, http.StatusConflict, errors.New("Event is already being processed"))
	case errors.Is(err, domorder.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("Order not found"))
	case errors.Is(err, domorder.ErrInvalidStateTransition),
		errors.Is(err, domorder.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domcatalog.ErrDuplicate):
		writeError(w, http.StatusConflict, errors.New("A product with this slug already exists"))
	case errors.Is(err, appcheckout.ErrPaymentUnavailable):
		logctx.FromOr(r.Context(), h.log).Error("payment_provider_unavailable", observability.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errInternal)
	default:
		logctx.FromOr(r.Context(), h.log).Error("request_failed",
			observability.F("route", routeFromContext(r.Context())),
			observability.F("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}
