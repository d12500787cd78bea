// Package pairing groups flat buy/sell charge lines into ChargePairs for
// editing and expands pairs back into lines for persistence.
package pairing

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"freightq/internal/domain"
)

// groupKey identifies a pair within one leg (or the combined set). The note
// participates so two otherwise-identical charges with different notes stay
// separate lines.
type groupKey struct {
	category string
	basis    string
	note     string
}

func keyFor(line domain.ChargeLine) groupKey {
	return groupKey{
		category: line.CategoryID,
		basis:    line.BasisID,
		note:     strings.TrimSpace(line.Note),
	}
}

// Group builds ChargePairs from a flat list of persisted charge lines
// belonging to one leg or to an option's combined set. Pairs appear in
// first-seen order. If two lines of the same side share a grouping key, the
// last one processed wins; the overwrite is logged so business-rule audits
// can find occurrences.
func Group(lines []domain.ChargeLine, log *slog.Logger) []*domain.ChargePair {
	if log == nil {
		log = slog.Default()
	}

	var pairs []*domain.ChargePair
	byKey := make(map[groupKey]*domain.ChargePair)

	for _, line := range lines {
		k := keyFor(line)
		pair, ok := byKey[k]
		if !ok {
			pair = &domain.ChargePair{
				ID:         domain.NewPairID(),
				CategoryID: line.CategoryID,
				BasisID:    line.BasisID,
				CurrencyID: line.CurrencyID,
				Unit:       line.Unit,
				Note:       k.note,
			}
			byKey[k] = pair
			pairs = append(pairs, pair)
		}

		side := &domain.ChargeSideAmount{
			Quantity:   line.Quantity,
			Rate:       line.Rate,
			Amount:     line.Quantity.Mul(line.Rate),
			DBChargeID: line.ID,
		}
		switch line.Side {
		case domain.SideBuy:
			if pair.Buy != nil {
				log.Debug("duplicate buy line for grouping key, last wins",
					"category", k.category, "basis", k.basis, "note", k.note)
			}
			pair.Buy = side
		case domain.SideSell:
			if pair.Sell != nil {
				log.Debug("duplicate sell line for grouping key, last wins",
					"category", k.category, "basis", k.basis, "note", k.note)
			}
			pair.Sell = side
		}
	}

	return pairs
}

// Expand serializes one pair into zero, one, or two charge lines, one per
// populated side. Amounts are recomputed from quantity × rate, never trusted
// from the pair. An empty pair yields no lines.
func Expand(pair *domain.ChargePair, optionID, legID string) []domain.ChargeLine {
	var lines []domain.ChargeLine
	if pair.Buy != nil {
		lines = append(lines, expandSide(pair, pair.Buy, domain.SideBuy, optionID, legID))
	}
	if pair.Sell != nil {
		lines = append(lines, expandSide(pair, pair.Sell, domain.SideSell, optionID, legID))
	}
	return lines
}

func expandSide(pair *domain.ChargePair, side *domain.ChargeSideAmount, cs domain.ChargeSide, optionID, legID string) domain.ChargeLine {
	return domain.ChargeLine{
		ID:         side.DBChargeID,
		OptionID:   optionID,
		LegID:      legID,
		CategoryID: pair.CategoryID,
		BasisID:    pair.BasisID,
		CurrencyID: pair.CurrencyID,
		Unit:       pair.Unit,
		Quantity:   side.Quantity,
		Rate:       side.Rate,
		Amount:     side.Quantity.Mul(side.Rate),
		Side:       cs,
		Note:       strings.TrimSpace(pair.Note),
	}
}

// lineTotal is a convenience for tests and totals checks.
func lineTotal(lines []domain.ChargeLine, side domain.ChargeSide) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		if l.Side == side {
			sum = sum.Add(l.Amount)
		}
	}
	return sum
}
