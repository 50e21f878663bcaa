package inventory

import (
	"errors"
	"time"
)

var ErrInvalidEntry = errors.New("inventory: entry requires a product id")

type ChangeType string

const (
	ChangeManualAdjust ChangeType = "manual_adjust"
	ChangeOrderDeduct  ChangeType = "order_deduct"
	ChangePreorder     ChangeType = "preorder"
	ChangeSet          ChangeType = "set"
)

// Well-known sources recorded on ledger entries.
const (
	SourceCheckout      = "checkout"
	SourceLivestockSync = "livestock_sync"
	SourceAdmin         = "admin"
	SourceAdminInline   = "admin_inline"
)

// Entry is one append-only ledger row. Quantity is the signed delta.
type Entry struct {
	ID          string
	ProductID   string
	ChangeType  ChangeType
	Quantity    int
	PreviousQty int
	NewQty      int
	Source      string
	Reference   string
	Notes       string
	CreatedAt   time.Time
}

func NewEntry(id, productID string, change ChangeType, previous, next int, source, reference, notes string) (Entry, error) {
	if productID == "" {
		return Entry{}, ErrInvalidEntry
	}
	return Entry{
		ID:          id,
		ProductID:   productID,
		ChangeType:  change,
		Quantity:    next - previous,
		PreviousQty: previous,
		NewQty:      next,
		Source:      source,
		Reference:   reference,
		Notes:       notes,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
