// Package ranking scores and orders quote options by a weighted combination
// of cost, transit time, and reliability.
package ranking

import (
	"sort"

	"freightq/internal/domain"
)

// Criteria holds the scoring weights. The caller supplies consistent weights;
// they are applied as given, not normalized.
type Criteria struct {
	CostWeight        float64
	TransitWeight     float64
	ReliabilityWeight float64
}

// Rank returns the options ordered best-first by
//
//	score = costWeight×(1−normCost) + transitWeight×(1−normTransit) + reliabilityWeight×normReliability
//
// where cost and transit are min-max normalized against the candidate set and
// reliability (0–10) is rescaled to 0–1. Options with no transit-time data
// score the candidate median rather than being excluded. The sort is stable:
// equal scores preserve the input's relative order. The input slice is not
// modified.
func Rank(options []*domain.Option, c Criteria) []*domain.Option {
	if len(options) == 0 {
		return nil
	}

	costs := make([]float64, len(options))
	for i, o := range options {
		costs[i] = o.Totals.TotalSell.InexactFloat64()
	}

	transits := make([]float64, len(options))
	var present []float64
	for _, o := range options {
		if o.TransitDays != nil {
			present = append(present, float64(*o.TransitDays))
		}
	}
	med := median(present)
	for i, o := range options {
		if o.TransitDays != nil {
			transits[i] = float64(*o.TransitDays)
		} else {
			transits[i] = med
		}
	}

	normCost := minMax(costs)
	normTransit := minMax(transits)

	type scored struct {
		opt   *domain.Option
		score float64
	}
	ranked := make([]scored, len(options))
	for i, o := range options {
		rel := o.Reliability / 10
		if rel < 0 {
			rel = 0
		} else if rel > 1 {
			rel = 1
		}
		ranked[i] = scored{
			opt: o,
			score: c.CostWeight*(1-normCost[i]) +
				c.TransitWeight*(1-normTransit[i]) +
				c.ReliabilityWeight*rel,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]*domain.Option, len(ranked))
	for i, s := range ranked {
		out[i] = s.opt
	}
	return out
}

// minMax rescales values to [0, 1] against their own min and max. A constant
// slice maps to all zeros.
func minMax(values []float64) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(values))
	if hi == lo {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// median returns the median of values, or 0 for an empty slice.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
