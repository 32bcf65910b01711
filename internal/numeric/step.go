// Package numeric aligns order quantities and prices to exchange step and
// tick grids using exact decimal arithmetic.
package numeric

import "github.com/shopspring/decimal"

// FloorToStep truncates value to the nearest multiple of step that is less
// than or equal to value. A non-positive step returns value unchanged.
func FloorToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	q, r := value.QuoRem(step, 0)
	if r.IsNegative() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}

// CeilToStep rounds value up to the nearest multiple of step.
func CeilToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	q, r := value.QuoRem(step, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}

// MinNotionalQuantity returns the smallest step-aligned quantity whose
// notional at price is at least minAmt and which is not below minQty.
func MinNotionalQuantity(minAmt, minQty, price, step decimal.Decimal) decimal.Decimal {
	qty := minQty
	if price.IsPositive() && minAmt.IsPositive() {
		byNotional := minAmt.Div(price)
		if byNotional.GreaterThan(qty) {
			qty = byNotional
		}
	}
	qty = CeilToStep(qty, step)
	// minAmt/price is rounded to 16 places, so the ceiling can sit one step short.
	if price.IsPositive() && step.IsPositive() && qty.Mul(price).LessThan(minAmt) {
		qty = qty.Add(step)
	}
	return qty
}

// AlignPrice snaps price to the tick grid. When up is true the result is the
// next tick at or above price, otherwise the next tick at or below.
func AlignPrice(price, tick decimal.Decimal, up bool) decimal.Decimal {
	if up {
		return CeilToStep(price, tick)
	}
	return FloorToStep(price, tick)
}

// QtyForNotional converts a quote-currency notional into a step-aligned
// quantity at price. The result never exceeds notional/price.
func QtyForNotional(notional, price, step decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !notional.IsPositive() {
		return decimal.Zero
	}
	return FloorToStep(notional.Div(price), step)
}

// FromFloat converts a float through its shortest decimal representation so
// values like 0.1 become exactly 0.1 rather than the binary approximation.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Format renders d as the plain decimal string the exchange expects.
func Format(d decimal.Decimal) string {
	return d.String()
}
