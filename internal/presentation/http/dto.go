package httppresentation

import (
	"time"

	"github.com/shopspring/decimal"

	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domorder "github.com/farmstand/storefront/internal/domain/order"
)

type productResponse struct {
	ID                string          `json:"id"`
	Slug              string          `json:"slug"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	Unit              string          `json:"unit"`
	Category          string          `json:"category"`
	Subcategory       string          `json:"subcategory,omitempty"`
	StockQuantity     int             `json:"stockQuantity"`
	Available         int             `json:"available"`
	InStock           bool            `json:"inStock"`
	LowStock          bool            `json:"lowStock"`
	PreorderEnabled   bool            `json:"preorderEnabled"`
	PreorderAvailable int             `json:"preorderAvailable"`
}

func toProductResponse(p *domcatalog.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		Slug:              p.Slug,
		Name:              p.Name,
		Description:       p.Description,
		Price:             p.Price,
		Unit:              p.Unit,
		Category:          p.Category,
		Subcategory:       p.Subcategory,
		StockQuantity:     p.StockQuantity,
		Available:         p.Available(),
		InStock:           p.InStock,
		LowStock:          p.IsLowStock(),
		PreorderEnabled:   p.PreorderEnabled,
		PreorderAvailable: p.PreorderAvailable(),
	}
}

type addressResponse struct {
	Line1 string `json:"line1,omitempty"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

type orderItemResponse struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
	IsPreorder  bool            `json:"isPreorder"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	OrderNumber      string              `json:"orderNumber"`
	Status           domorder.Status     `json:"status"`
	CustomerName     string              `json:"customerName"`
	CustomerEmail    string              `json:"customerEmail"`
	CustomerPhone    string              `json:"customerPhone,omitempty"`
	DeliveryMethod   string              `json:"deliveryMethod"`
	Address          addressResponse     `json:"address"`
	Notes            string              `json:"notes,omitempty"`
	Items            []orderItemResponse `json:"items"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	DeliveryFee      decimal.Decimal     `json:"deliveryFee"`
	Tax              decimal.Decimal     `json:"tax"`
	Total            decimal.Decimal     `json:"total"`
	PaymentReference string              `json:"paymentReference,omitempty"`
	FulfillmentIssue string              `json:"fulfillmentIssue,omitempty"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	CancelledAt      *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Price:       it.ProductPrice,
			Quantity:    it.Quantity,
			Total:       it.Total,
			IsPreorder:  it.IsPreorder,
		})
	}
	return orderResponse{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		Status:         o.Status,
		CustomerName:   o.CustomerName,
		CustomerEmail:  o.CustomerEmail,
		CustomerPhone:  o.CustomerPhone,
		DeliveryMethod: string(o.DeliveryMethod),
		Address: addressResponse{
			Line1: o.Address.Line1,
			Line2: o.Address.Line2,
			City:  o.Address.City,
			State: o.Address.State,
			Zip:   o.Address.Zip,
		},
		Notes:            o.Notes,
		Items:            items,
		Subtotal:         o.Subtotal,
		DeliveryFee:      o.DeliveryFee,
		Tax:              o.Tax,
		Total:            o.Total,
		PaymentReference: o.PaymentReference,
		FulfillmentIssue: o.FulfillmentIssue,
		PaidAt:           o.PaidAt,
		CancelledAt:      o.CancelledAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

type entryResponse struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	ChangeType  string    `json:"changeType"`
	Quantity    int       `json:"quantity"`
	PreviousQty int       `json:"previousQty"`
	NewQty      int       `json:"newQty"`
	Source      string    `json:"source"`
	Reference   string    `json:"reference,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toEntryResponse(e dominv.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		ProductID:   e.ProductID,
		ChangeType:  string(e.ChangeType),
		Quantity:    e.Quantity,
		PreviousQty: e.PreviousQty,
		NewQty:      e.NewQty,
		Source:      e.Source,
		Reference:   e.Reference,
		Notes:       e.Notes,
		CreatedAt:   e.CreatedAt,
	}
}
