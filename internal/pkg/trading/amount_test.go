package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQtyForCapital(t *testing.T) {
	cases := []struct {
		name     string
		capital  float64
		price    float64
		lotStep  float64
		expected float64
	}{
		{"whole shares", 10000, 950, 1, 10},
		{"exact division", 10000, 100, 1, 100},
		{"fractional lots", 100, 30000, 0.001, 0.003},
		{"capital below one lot", 50, 100, 1, 0},
		{"zero price", 1000, 0, 1, 0},
		{"zero capital", 0, 100, 1, 0},
		{"default lot step", 1000, 333, 0, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, QtyForCapital(tc.capital, tc.price, tc.lotStep))
		})
	}
}
