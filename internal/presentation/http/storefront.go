package httppresentation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	appcheckout "github.com/farmstand/storefront/internal/application/checkout"
	apppayment "github.com/farmstand/storefront/internal/application/payment"
	appsync "github.com/farmstand/storefront/internal/application/livestocksync"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domorder "github.com/farmstand/storefront/internal/domain/order"
)

const (
	headerStripeSignature = "Stripe-Signature"
	headerSyncSecret      = "X-Sync-Secret"

	// Stripe caps webhook payloads well below this.
	maxWebhookBody = 1 << 20
)

type checkoutItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items            []checkoutItemRequest `json:"items"`
	CustomerEmail    string                `json:"customerEmail"`
	CustomerName     string                `json:"customerName"`
	CustomerPhone    string                `json:"customerPhone"`
	DeliveryMethod   string                `json:"deliveryMethod"`
	DeliveryAddress  string                `json:"deliveryAddress"`
	DeliveryAddress2 string                `json:"deliveryAddress2"`
	DeliveryCity     string                `json:"deliveryCity"`
	DeliveryState    string                `json:"deliveryState"`
	DeliveryZip      string                `json:"deliveryZip"`
	DeliveryNotes    string                `json:"deliveryNotes"`
}

type checkoutResponse struct {
	SessionID   string `json:"sessionId"`
	URL         string `json:"url"`
	OrderNumber string `json:"orderNumber"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]appcheckout.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, appcheckout.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	result, err := h.svc.Checkout.Execute(r.Context(), appcheckout.Input{
		Items:          items,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerPhone:  req.CustomerPhone,
		DeliveryMethod: req.DeliveryMethod,
		Address: domorder.Address{
			Line1: req.DeliveryAddress,
			Line2: req.DeliveryAddress2,
			City:  req.DeliveryCity,
			State: req.DeliveryState,
			Zip:   req.DeliveryZip,
		},
		Notes: req.DeliveryNotes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID:   result.SessionID,
		URL:         result.URL,
		OrderNumber: result.OrderNumber,
	})
}

// handleStripeWebhook needs the untouched body: the signature covers the exact bytes sent.
func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("Unable to read request body"))
		return
	}

	if _, err := h.svc.Webhooks.Execute(r.Context(), apppayment.Input{
		Payload:   payload,
		Signature: r.Header.Get(headerStripeSignature),
	}); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type syncAnimalRequest struct {
	ExternalID  string           `json:"externalId"`
	Name        string           `json:"name"`
	Species     string           `json:"species"`
	Breed       string           `json:"breed"`
	Sex         string           `json:"sex"`
	DateOfBirth string           `json:"dateOfBirth"`
	Status      string           `json:"status"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

type syncInventoryRequest struct {
	ProductSlug string `json:"productSlug"`
	Quantity    int    `json:"quantity"`
}

type syncPhotoRequest struct {
	AnimalID string `json:"animalId"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

type syncRequest struct {
	Type      string                 `json:"type"`
	Animals   []syncAnimalRequest    `json:"animals"`
	Inventory []syncInventoryRequest `json:"inventory"`
	Photos    []syncPhotoRequest     `json:"photos"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	// the herd system sends more animal fields than the storefront keeps
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSyncBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, badRequest(err))
		return
	}

	in := appsync.Input{
		Secret:    r.Header.Get(headerSyncSecret),
		Type:      req.Type,
		Animals:   make([]appsync.AnimalInput, 0, len(req.Animals)),
		Inventory: make([]appsync.InventoryInput, 0, len(req.Inventory)),
		Photos:    make([]appsync.PhotoInput, 0, len(req.Photos)),
	}
	for _, a := range req.Animals {
		in.Animals = append(in.Animals, appsync.AnimalInput{
			ExternalID:  a.ExternalID,
			Name:        a.Name,
			Species:     a.Species,
			Breed:       a.Breed,
			Sex:         a.Sex,
			DateOfBirth: a.DateOfBirth,
			Status:      a.Status,
			Description: a.Description,
			Price:       a.Price,
		})
	}
	for _, it := range req.Inventory {
		in.Inventory = append(in.Inventory, appsync.InventoryInput{ProductSlug: it.ProductSlug, Quantity: it.Quantity})
	}
	for _, p := range req.Photos {
		in.Photos = append(in.Photos, appsync.PhotoInput{AnimalID: p.AnimalID, Filename: p.Filename, Data: p.Data})
	}

	result, err := h.svc.Sync.Execute(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Products.FindBySlug(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, domcatalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("Product not found"))
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}
