package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"8.00", 800},
		{"21", 2100},
		{"0.005", 1},
		{"12.344", 1234},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(decimal.RequireFromString(tt.in)))
		})
	}
	assert.True(t, FromMinorUnits(2100).Equal(decimal.NewFromInt(21)))
}
