// Package trading provides order sizing calculations.
package trading

import (
	"github.com/shopspring/decimal"
)

// QtyForCapital computes how many units of the instrument a fixed capital
// allocation buys at the given price, truncated to lotStep (e.g. 1 for whole
// shares, 0.001 for fractional lots). Returns 0 when the capital does not
// cover a single lot or the inputs are degenerate.
func QtyForCapital(capital, price, lotStep float64) float64 {
	if capital <= 0 || price <= 0 {
		return 0
	}
	if lotStep <= 0 {
		lotStep = 1
	}
	cap := decimal.NewFromFloat(capital)
	px := decimal.NewFromFloat(price)
	step := decimal.NewFromFloat(lotStep)

	lots := cap.Div(px).Div(step).Floor()
	qty, _ := lots.Mul(step).Float64()
	if qty < 0 {
		return 0
	}
	return qty
}
