package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicPaid           = "order.paid"
	TopicStockShortfall = "order.stock_shortfall"
)

type ItemSnapshot struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
	IsPreorder bool            `json:"isPreorder"`
}

// PaidEvent carries the full order snapshot for the customer and farm notifications.
type PaidEvent struct {
	OrderID        string          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	CustomerName   string          `json:"customerName"`
	CustomerEmail  string          `json:"customerEmail"`
	CustomerPhone  string          `json:"customerPhone,omitempty"`
	DeliveryMethod DeliveryMethod  `json:"deliveryMethod"`
	Address        *Address        `json:"address,omitempty"`
	Items          []ItemSnapshot  `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	PaidAt         time.Time       `json:"paidAt"`
}

func (PaidEvent) EventName() string { return TopicPaid }

func NewPaidEvent(o *Order) PaidEvent {
	items := make([]ItemSnapshot, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemSnapshot{
			ProductID:  it.ProductID,
			Name:       it.ProductName,
			Price:      it.ProductPrice,
			Quantity:   it.Quantity,
			Total:      it.Total,
			IsPreorder: it.IsPreorder,
		})
	}
	evt := PaidEvent{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerName:   o.CustomerName,
		CustomerEmail:  o.CustomerEmail,
		CustomerPhone:  o.CustomerPhone,
		DeliveryMethod: o.DeliveryMethod,
		Items:          items,
		Subtotal:       o.Subtotal,
		DeliveryFee:    o.DeliveryFee,
		Tax:            o.Tax,
		Total:          o.Total,
		PaidAt:         time.Now().UTC(),
	}
	if o.PaidAt != nil {
		evt.PaidAt = *o.PaidAt
	}
	if o.DeliveryMethod == DeliveryDelivery {
		addr := o.Address
		evt.Address = &addr
	}
	return evt
}

type ShortfallLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockShortfallEvent alerts the farm that a paid order could not be fully fulfilled from stock.
type StockShortfallEvent struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Lines       []ShortfallLine `json:"lines"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

func (StockShortfallEvent) EventName() string { return TopicStockShortfall }
