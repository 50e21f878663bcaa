package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eggs(stock int) *Product {
	return &Product{ID: "p-eggs", Name: "Eggs", StockQuantity: stock, InStock: stock > 0, LowStockThreshold: 5}
}

func TestReserveHoldsAvailableUnits(t *testing.T) {
	p := eggs(3)

	require.NoError(t, p.Reserve(2))
	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 3, p.StockQuantity)

	err := p.Reserve(2)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Available)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, "Insufficient stock for Eggs. Available: 1", err.Error())
}

func TestCommitReservedDeductsStock(t *testing.T) {
	p := eggs(24)
	require.NoError(t, p.Reserve(2))

	require.NoError(t, p.CommitReserved(2))

	assert.Equal(t, 22, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)
	assert.True(t, p.InStock)
}

func TestDeductNeverGoesNegative(t *testing.T) {
	p := eggs(1)

	assert.ErrorIs(t, p.Deduct(2), ErrInsufficientStock)
	require.NoError(t, p.Deduct(1))
	assert.Equal(t, 0, p.StockQuantity)
	assert.False(t, p.InStock)
}

func TestSetStockRejectsNegative(t *testing.T) {
	p := eggs(4)

	assert.ErrorIs(t, p.SetStock(-1), ErrNegativeStock)
	assert.ErrorIs(t, p.AdjustStock(-5), ErrNegativeStock)
	require.NoError(t, p.AdjustStock(-4))
	assert.False(t, p.InStock)
	assert.True(t, p.IsLowStock())
}

func TestPreorderCapacity(t *testing.T) {
	p := &Product{ID: "p-lamb", Name: "Lamb share", PreorderEnabled: true, PreorderLimit: 5, PreorderCount: 2}

	require.NoError(t, p.ReservePreorder(2))
	assert.Equal(t, 1, p.PreorderAvailable())
	assert.ErrorIs(t, p.ReservePreorder(2), ErrInsufficientStock)

	require.NoError(t, p.CommitPreorder(2, true))
	assert.Equal(t, 4, p.PreorderCount)
	assert.Equal(t, 0, p.PreorderReserved)

	p.PreorderEnabled = false
	assert.Equal(t, 0, p.PreorderAvailable())
}

func TestReleaseClampsAtZero(t *testing.T) {
	p := eggs(5)
	require.NoError(t, p.Reserve(1))

	p.Release(3, false)

	assert.Equal(t, 0, p.ReservedQuantity)
	assert.Equal(t, 5, p.Available())
}

func TestNotFoundErrorUnwraps(t *testing.T) {
	err := error(&NotFoundError{IDs: []string{"a", "b"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Products not found: [a b]", err.Error())
}
