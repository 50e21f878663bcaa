package inventory

import "time"

const TopicLowStock = "inventory.low_stock"

// LowStockEvent is raised whenever a stock change lands at or below the product threshold.
type LowStockEvent struct {
	ProductID  string    `json:"productId"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	Threshold  int       `json:"threshold"`
	OutOfStock bool      `json:"outOfStock"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (LowStockEvent) EventName() string { return TopicLowStock }

func NewLowStockEvent(productID, name string, qty, threshold int) LowStockEvent {
	return LowStockEvent{
		ProductID:  productID,
		Name:       name,
		Quantity:   qty,
		Threshold:  threshold,
		OutOfStock: qty == 0,
		OccurredAt: time.Now().UTC(),
	}
}
