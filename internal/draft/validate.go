package draft

import (
	"fmt"
	"strings"

	"freightq/internal/domain"
	"freightq/internal/pricing"
)

// Issue is one validation finding, located by option and leg where
// applicable.
type Issue struct {
	OptionID string
	LegID    string
	Message  string
}

// Result partitions validation findings into blocking errors and advisory
// warnings. A draft with warnings but no errors saves normally.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether the draft may be saved.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Error makes a failed Result usable as the save error.
func (r *Result) Error() string {
	if len(r.Errors) == 0 {
		return "draft: valid"
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return fmt.Sprintf("draft: validation failed: %s", strings.Join(msgs, "; "))
}

// Validate checks the draft and returns the partitioned findings without
// mutating anything.
func (s *Session) Validate() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only an editing session transits through validating; a concurrent save
	// owns the state until it finishes.
	if s.state == StateEditing {
		s.state = StateValidating
		defer func() { s.state = StateEditing }()
	}
	return validateDraft(s.draft)
}

func validateDraft(d *domain.Draft) *Result {
	res := &Result{}
	errf := func(optionID, legID, format string, args ...any) {
		res.Errors = append(res.Errors, Issue{OptionID: optionID, LegID: legID, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(optionID, legID, format string, args ...any) {
		res.Warnings = append(res.Warnings, Issue{OptionID: optionID, LegID: legID, Message: fmt.Sprintf(format, args...)})
	}

	if len(d.Options) == 0 {
		errf("", "", "draft has no options")
		return res
	}

	for _, o := range d.Options {
		if o.Name == "" {
			errf(o.ID, "", "option has no name")
		}
		if o.Currency == "" {
			errf(o.ID, "", "option %q has no currency", o.Name)
		}

		charges := 0
		zeroSell := 0
		check := func(pairs []*domain.ChargePair) {
			for _, p := range pairs {
				if p.Empty() {
					continue
				}
				charges++
				if p.Buy != nil && (p.Sell == nil || !p.Sell.Quantity.Mul(p.Sell.Rate).IsPositive()) {
					zeroSell++
				}
			}
		}

		for _, leg := range o.Legs {
			if leg.Mode == "" {
				errf(o.ID, leg.ID, "leg has no transport mode")
			}
			if leg.Type == domain.LegService {
				if leg.ServiceOnlyCategory == "" {
					errf(o.ID, leg.ID, "service leg has no category")
				}
			} else {
				if leg.Origin == "" || leg.Destination == "" {
					errf(o.ID, leg.ID, "leg is missing origin or destination")
				}
			}
			if leg.Mode == domain.ModeAir &&
				!pricing.ChargeableWeight(leg.Mode, leg.ActualWeightKg, leg.VolumeM3).IsPositive() {
				errf(o.ID, leg.ID, "air leg needs a positive chargeable weight")
			}
			check(leg.Charges)
		}
		check(o.CombinedCharges)

		if charges == 0 {
			warnf(o.ID, "", "option %q has no charges", o.Name)
		}
		if zeroSell > 0 {
			warnf(o.ID, "", "option %q has %d charge(s) with cost but no revenue", o.Name, zeroSell)
		}
	}

	return res
}
