package engine

import (
	"math"

	"github.com/nmoreno/subastas-monitor/internal/store"
)

// costTolerance is how far cu × eq may drift from ct before the pair is
// considered inconsistent and re-resolved.
const costTolerance = 0.01

// equivalentQuantity returns quantity / items_per_renglon. A non-positive
// items_per_renglon is treated as 1 and flagged so the caller can WARN.
func equivalentQuantity(c *store.LineItemCosts) (eq *float64, invalidIPR bool) {
	ipr := c.ItemsPerRenglon
	if ipr <= 0 {
		invalidIPR = true
		ipr = 1
	}
	if c.Quantity == nil || *c.Quantity <= 0 {
		return nil, invalidIPR
	}
	v := *c.Quantity / ipr
	return &v, invalidIPR
}

// deriveCosts resolves the cost pair and recomputes every derived metric on
// c in place, using the latest observed state for budget and min-to-beat.
// st may be nil (nothing observed yet). Returns warnings for the event log.
func deriveCosts(c *store.LineItemCosts, st *store.LineItemState) []string {
	var warnings []string

	eq, invalidIPR := equivalentQuantity(c)
	if invalidIPR {
		warnings = append(warnings, "items_per_renglon no positivo, se asume 1")
		c.ItemsPerRenglon = 1
	}

	// Cost bidirectional resolution: TOTAL wins on disagreement.
	cu, ct := c.CostUnitARS, c.CostTotalARS
	switch {
	case cu != nil && ct != nil && eq != nil:
		if math.Abs(*cu**eq-*ct) > costTolerance {
			c.CostUnitARS = div(ct, eq)
		}
	case cu != nil && ct == nil:
		c.CostTotalARS = mul(cu, eq)
	case cu == nil && ct != nil:
		c.CostUnitARS = div(ct, eq)
	}

	// USD mirror. User-supplied USD figures are preserved.
	if c.CostUnitUSD == nil {
		c.CostUnitUSD = div(c.CostUnitARS, c.ExchangeRate)
	}
	if c.CostTotalUSD == nil {
		c.CostTotalUSD = div(c.CostTotalARS, c.ExchangeRate)
	}

	// Acceptable prices: (1 + rmin) × cost.
	if c.MinMargin != nil {
		factor := 1 + *c.MinMargin
		c.PriceUnitAcceptable = mul(c.CostUnitARS, &factor)
		c.PriceTotalAcceptable = mul(c.CostTotalARS, &factor)
	} else {
		c.PriceUnitAcceptable = nil
		c.PriceTotalAcceptable = nil
	}

	// Reference and improvement metrics need an observation.
	var budget, minToBeat *float64
	if st != nil {
		budget, minToBeat = st.Budget, st.MinToBeat
	}
	c.PriceRefUnit = div(budget, eq)
	c.RentaRef = renta(c.PriceRefUnit, c.CostUnitARS)
	c.PriceUnitMejora = div(minToBeat, eq)
	c.RentaParaMejorar = renta(c.PriceUnitMejora, c.CostUnitARS)

	return warnings
}

// renta computes price/cost − 1, null on missing or zero cost.
func renta(price, cost *float64) *float64 {
	q := div(price, cost)
	if q == nil {
		return nil
	}
	v := *q - 1
	return &v
}

// mul multiplies, propagating null.
func mul(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a * *b
	return &v
}

// div divides, null on missing operand or zero divisor.
func div(a, b *float64) *float64 {
	if a == nil || b == nil || *b == 0 {
		return nil
	}
	v := *a / *b
	return &v
}
