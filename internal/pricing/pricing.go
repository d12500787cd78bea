package pricing

import (
	"github.com/shopspring/decimal"

	"freightq/internal/domain"
)

// Volumetric conversion factors, kg per m³. Air freight uses the IATA 167
// convention; ocean and land use 1000 (one tonne per cubic metre,
// weight-or-measure).
var (
	airFactor     = decimal.NewFromInt(167)
	surfaceFactor = decimal.NewFromInt(1000)
)

// ChargeableWeight returns the billable weight in kg for the given mode:
// the greater of actual and volumetric weight. Service legs bill actual
// weight only.
func ChargeableWeight(mode domain.TransportMode, actualKg, volumeM3 decimal.Decimal) decimal.Decimal {
	var volumetric decimal.Decimal
	switch mode {
	case domain.ModeAir:
		volumetric = volumeM3.Mul(airFactor)
	case domain.ModeService:
		return actualKg
	default:
		volumetric = volumeM3.Mul(surfaceFactor)
	}
	if volumetric.GreaterThan(actualKg) {
		return volumetric
	}
	return actualKg
}

// ComputeTotals aggregates buy and sell across every charge pair of the
// option, per-leg and combined, and derives margin amount and percentage.
// Amounts are recomputed from quantity × rate. Margin percentage is zero when
// total sell is zero.
func ComputeTotals(o *domain.Option) domain.Totals {
	buy := decimal.Zero
	sell := decimal.Zero

	add := func(p *domain.ChargePair) {
		if p.Buy != nil {
			buy = buy.Add(p.Buy.Quantity.Mul(p.Buy.Rate))
		}
		if p.Sell != nil {
			sell = sell.Add(p.Sell.Quantity.Mul(p.Sell.Rate))
		}
	}

	for _, leg := range o.Legs {
		for _, p := range leg.Charges {
			add(p)
		}
	}
	for _, p := range o.CombinedCharges {
		add(p)
	}

	margin := sell.Sub(buy)
	marginPct := decimal.Zero
	if sell.IsPositive() {
		marginPct = margin.Div(sell).Mul(hundred)
	}

	return domain.Totals{
		TotalBuy:     buy,
		TotalSell:    sell,
		MarginAmount: margin,
		MarginPct:    marginPct,
	}
}

// RepriceWeightCharges recomputes the quantity of every weight-basis charge
// pair on the leg from the leg's current chargeable weight. Called when the
// leg's mode or cargo figures change so weight-priced charges never go stale.
func RepriceWeightCharges(leg *domain.Leg, isWeightBasis func(basisID string) bool) {
	w := ChargeableWeight(leg.Mode, leg.ActualWeightKg, leg.VolumeM3)
	for _, p := range leg.Charges {
		if !isWeightBasis(p.BasisID) {
			continue
		}
		if p.Buy != nil {
			p.Buy.Quantity = w
			p.Buy.Amount = w.Mul(p.Buy.Rate)
		}
		if p.Sell != nil {
			p.Sell.Quantity = w
			p.Sell.Amount = w.Mul(p.Sell.Rate)
		}
	}
}
