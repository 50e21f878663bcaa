package httppresentation

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/farmstand/storefront/internal/application"
	appcatalog "github.com/farmstand/storefront/internal/application/catalog"
	appcontent "github.com/farmstand/storefront/internal/application/content"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	apporder "github.com/farmstand/storefront/internal/application/order"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
)

const (
	stockModeAdjust = "adjust"
	stockModeSet    = "set"

	defaultLogLimit = 50
	maxLogLimit     = 500
)

// admin rejects requests without the configured bearer token. An empty token locks the
// admin surface entirely.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || len(h.adminToken) == 0 || subtle.ConstantTimeCompare([]byte(token), h.adminToken) != 1 {
			writeError(w, http.StatusUnauthorized, application.ErrUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := h.svc.Orders.List(r.Context(), apporder.ListInput{Status: q.Get("status"), Limit: limit})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.svc.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type createProductRequest struct {
	Slug              string          `json:"slug"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	Unit              string          `json:"unit"`
	Category          string          `json:"category"`
	Subcategory       string          `json:"subcategory"`
	StockQuantity     int             `json:"stockQuantity"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	PreorderEnabled   bool            `json:"preorderEnabled"`
	PreorderLimit     int             `json:"preorderLimit"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.svc.Catalog.Create(r.Context(), appcatalog.CreateInput{
		Slug:              req.Slug,
		Name:              req.Name,
		Description:       req.Description,
		Price:             req.Price,
		Unit:              req.Unit,
		Category:          req.Category,
		Subcategory:       req.Subcategory,
		StockQuantity:     req.StockQuantity,
		LowStockThreshold: req.LowStockThreshold,
		PreorderEnabled:   req.PreorderEnabled,
		PreorderLimit:     req.PreorderLimit,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

type updateStockRequest struct {
	Mode     string `json:"mode"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes"`
}

type stockChangeResponse struct {
	Product productResponse `json:"product"`
	Entry   entryResponse   `json:"entry"`
}

func (h *Handler) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	productID := chi.URLParam(r, "id")

	var (
		change *appinventory.Change
		err    error
	)
	switch strings.ToLower(req.Mode) {
	case stockModeAdjust:
		change, err = h.svc.Stock.Adjust(r.Context(), productID, req.Quantity, dominv.SourceAdmin, req.Notes)
	case stockModeSet:
		change, err = h.svc.Stock.Set(r.Context(), productID, req.Quantity, dominv.SourceAdmin, req.Notes)
	default:
		writeError(w, http.StatusBadRequest, errors.New(`mode must be "adjust" or "set"`))
		return
	}
	if errors.Is(err, domcatalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("Product not found"))
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockChangeResponse{
		Product: toProductResponse(change.Product),
		Entry:   toEntryResponse(change.Entry),
	})
}

func (h *Handler) handleInventoryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case limit <= 0:
		limit = defaultLogLimit
	case limit > maxLogLimit:
		limit = maxLogLimit
	}

	entries, err := h.svc.InventoryLog.List(r.Context(), dominv.Filter{ProductID: q.Get("productId"), Limit: limit})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type contentRequest struct {
	Edits []appcontent.Edit `json:"edits"`
}

type contentResponse struct {
	Results []appcontent.EditResult `json:"results"`
}

func (h *Handler) handleContentEdits(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := h.svc.Content.Execute(r.Context(), req.Edits)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{Results: results})
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	return n, nil
}
