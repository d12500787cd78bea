package draft

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"freightq/internal/domain"
	"freightq/internal/pricing"
)

// All mutations run under the session mutex and are refused while a save is
// in flight, so the reconciler diffs a stable draft.

func (s *Session) guard() error {
	if s.saving {
		return ErrSaveInProgress
	}
	if s.draft == nil {
		return errors.New("draft: session not loaded")
	}
	s.state = StateEditing
	return nil
}

// ---------------------------------------------------------------------------
// Option mutations
// ---------------------------------------------------------------------------

// AddOption creates a new manual option with a placeholder id. Option names
// are the natural key within a version, so duplicates are rejected here
// rather than at save time. The first option becomes the selection.
func (s *Session) AddOption(name, currency string) (*domain.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("draft: option name required")
	}
	for _, o := range s.draft.Options {
		if o.Name == name {
			return nil, fmt.Errorf("draft: option %q already exists", name)
		}
	}

	o := &domain.Option{
		ID:       domain.NewLocalID(),
		Name:     name,
		Currency: currency,
		Source:   domain.SourceManual,
	}
	s.draft.Options = append(s.draft.Options, o)
	if s.draft.SelectedOptionID == "" {
		s.selectLocked(o)
	}
	return o, nil
}

// RenameOption changes an option's name, keeping names unique.
func (s *Session) RenameOption(optionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("draft: option name required")
	}
	o, err := s.option(optionID)
	if err != nil {
		return err
	}
	for _, other := range s.draft.Options {
		if other != o && other.Name == name {
			return fmt.Errorf("draft: option %q already exists", name)
		}
	}
	o.Name = name
	return nil
}

// SelectOption marks the option as the current one.
func (s *Session) SelectOption(optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	o, err := s.option(optionID)
	if err != nil {
		return err
	}
	s.selectLocked(o)
	return nil
}

func (s *Session) selectLocked(o *domain.Option) {
	s.draft.SelectedOptionID = o.ID
	for _, other := range s.draft.Options {
		other.Selected = other == o
	}
}

// RemoveOption drops an option from the draft. Persisted child rows are
// cleaned up by the reconciler as orphans; no tombstones are needed.
func (s *Session) RemoveOption(optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	for i, o := range s.draft.Options {
		if o.ID != optionID {
			continue
		}
		s.draft.Options = append(s.draft.Options[:i], s.draft.Options[i+1:]...)
		if s.draft.SelectedOptionID == optionID {
			s.draft.SelectedOptionID = ""
			if len(s.draft.Options) > 0 {
				s.selectLocked(s.draft.Options[0])
			}
		}
		return nil
	}
	return fmt.Errorf("draft: option %q not found", optionID)
}

// SetMargin sets the option's margin percentage. Existing sell rates are not
// rewritten; the margin applies to subsequent buy-rate edits.
func (s *Session) SetMargin(optionID string, pct decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	o, err := s.option(optionID)
	if err != nil {
		return err
	}
	o.MarginPct = pct
	return nil
}

// ---------------------------------------------------------------------------
// Leg mutations
// ---------------------------------------------------------------------------

// AddLeg appends a leg to the option. A missing id gets a placeholder.
func (s *Session) AddLeg(optionID string, leg *domain.Leg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	o, err := s.option(optionID)
	if err != nil {
		return err
	}
	if leg.ID == "" {
		leg.ID = domain.NewLocalID()
	}
	if leg.Type == "" {
		leg.Type = domain.LegTransport
	}
	o.Legs = append(o.Legs, leg)
	return nil
}

// RemoveLeg drops a leg, tombstoning its persisted id and the persisted ids
// of every charge on it. The tombstones win over any stale reference at
// reconcile time.
func (s *Session) RemoveLeg(optionID, legID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	o, err := s.option(optionID)
	if err != nil {
		return err
	}
	for i, leg := range o.Legs {
		if leg.ID != legID {
			continue
		}
		s.draft.TombstoneLeg(leg.ID)
		for _, p := range leg.Charges {
			s.tombstonePair(p)
		}
		o.Legs = append(o.Legs[:i], o.Legs[i+1:]...)
		return nil
	}
	return fmt.Errorf("draft: leg %q not found", legID)
}

// SetLegMode changes the leg's transport mode and reprices every
// weight-basis charge on it from the new chargeable weight.
func (s *Session) SetLegMode(optionID, legID string, mode domain.TransportMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	_, leg, err := s.leg(optionID, legID)
	if err != nil {
		return err
	}
	leg.Mode = mode
	pricing.RepriceWeightCharges(leg, s.isWeightBasis)
	return nil
}

// SetLegRoute sets the leg's origin and destination.
func (s *Session) SetLegRoute(optionID, legID, origin, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	_, leg, err := s.leg(optionID, legID)
	if err != nil {
		return err
	}
	leg.Origin = origin
	leg.Destination = destination
	return nil
}

// SetLegCargo sets the leg's cargo figures and reprices weight-basis charges.
func (s *Session) SetLegCargo(optionID, legID string, weightKg, volumeM3 decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	_, leg, err := s.leg(optionID, legID)
	if err != nil {
		return err
	}
	leg.ActualWeightKg = weightKg
	leg.VolumeM3 = volumeM3
	pricing.RepriceWeightCharges(leg, s.isWeightBasis)
	return nil
}

// ---------------------------------------------------------------------------
// Charge mutations
// ---------------------------------------------------------------------------

// AddCharge appends a charge pair to a leg, or to the option's combined set
// when legID is empty. A missing pair id gets a fresh one.
func (s *Session) AddCharge(optionID, legID string, pair *domain.ChargePair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if pair.ID == "" {
		pair.ID = domain.NewPairID()
	}
	if legID == "" {
		o, err := s.option(optionID)
		if err != nil {
			return err
		}
		o.CombinedCharges = append(o.CombinedCharges, pair)
		return nil
	}
	_, leg, err := s.leg(optionID, legID)
	if err != nil {
		return err
	}
	leg.Charges = append(leg.Charges, pair)
	return nil
}

// RemoveCharge drops a charge pair, tombstoning the persisted id of each
// populated side.
func (s *Session) RemoveCharge(optionID, legID, pairID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	pairs, err := s.pairSlice(optionID, legID)
	if err != nil {
		return err
	}
	for i, p := range *pairs {
		if p.ID != pairID {
			continue
		}
		s.tombstonePair(p)
		*pairs = append((*pairs)[:i], (*pairs)[i+1:]...)
		return nil
	}
	return fmt.Errorf("draft: charge %q not found", pairID)
}

// SetQuantity sets the quantity on both sides of a pair and recomputes the
// side amounts.
func (s *Session) SetQuantity(optionID, legID, pairID string, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	p, _, err := s.pair(optionID, legID, pairID)
	if err != nil {
		return err
	}
	if p.Buy != nil {
		p.Buy.Quantity = qty
		p.Buy.Amount = qty.Mul(p.Buy.Rate)
	}
	if p.Sell != nil {
		p.Sell.Quantity = qty
		p.Sell.Amount = qty.Mul(p.Sell.Rate)
	}
	return nil
}

// SetSellRate sets the pair's sell rate directly, creating the sell side if
// absent. Manual sell edits bypass the margin policy.
func (s *Session) SetSellRate(optionID, legID, pairID string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	p, _, err := s.pair(optionID, legID, pairID)
	if err != nil {
		return err
	}
	ensureSell(p)
	p.Sell.Rate = rate
	p.Sell.Amount = p.Sell.Quantity.Mul(rate)
	return nil
}

// SetBuyRate sets the pair's buy rate, creating the buy side if absent. With
// auto-margin on, a debounced recompute derives the sell rate through the
// session's policy once edits go quiet; a recompute whose seeding rate has
// been superseded is dropped.
func (s *Session) SetBuyRate(optionID, legID, pairID string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	p, idx, err := s.pair(optionID, legID, pairID)
	if err != nil {
		return err
	}
	if p.Buy == nil {
		p.Buy = &domain.ChargeSideAmount{Quantity: decimal.NewFromInt(1)}
	}
	p.Buy.Rate = rate
	p.Buy.Amount = p.Buy.Quantity.Mul(rate)
	if !s.autoMargin {
		return nil
	}

	// Both timer callbacks drop out while a save is in flight: the persist
	// path reads the draft with s.mu released, so nothing may write to it
	// until saving clears.
	s.recomputer.Schedule(legID, idx, rate,
		func() decimal.Decimal {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.saving {
				return decimal.Decimal{}
			}
			if cur, _, err := s.pair(optionID, legID, pairID); err == nil && cur.Buy != nil {
				return cur.Buy.Rate
			}
			return decimal.Decimal{}
		},
		func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.saving {
				return
			}
			cur, _, err := s.pair(optionID, legID, pairID)
			if err != nil || cur.Buy == nil {
				return
			}
			o, err := s.option(optionID)
			if err != nil {
				return
			}
			sellRate := s.policy(cur.Buy.Rate, o.MarginPct)
			ensureSell(cur)
			cur.Sell.Quantity = cur.Buy.Quantity
			cur.Sell.Rate = sellRate
			cur.Sell.Amount = cur.Sell.Quantity.Mul(sellRate)
		})
	return nil
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func (s *Session) option(id string) (*domain.Option, error) {
	if o, ok := s.draft.Option(id); ok {
		return o, nil
	}
	return nil, fmt.Errorf("draft: option %q not found", id)
}

func (s *Session) leg(optionID, legID string) (*domain.Option, *domain.Leg, error) {
	o, err := s.option(optionID)
	if err != nil {
		return nil, nil, err
	}
	if leg, ok := o.Leg(legID); ok {
		return o, leg, nil
	}
	return nil, nil, fmt.Errorf("draft: leg %q not found", legID)
}

// pairSlice resolves the pair list a charge belongs to: the leg's charges,
// or the option's combined charges when legID is empty.
func (s *Session) pairSlice(optionID, legID string) (*[]*domain.ChargePair, error) {
	if legID == "" {
		o, err := s.option(optionID)
		if err != nil {
			return nil, err
		}
		return &o.CombinedCharges, nil
	}
	_, leg, err := s.leg(optionID, legID)
	if err != nil {
		return nil, err
	}
	return &leg.Charges, nil
}

func (s *Session) pair(optionID, legID, pairID string) (*domain.ChargePair, int, error) {
	pairs, err := s.pairSlice(optionID, legID)
	if err != nil {
		return nil, 0, err
	}
	for i, p := range *pairs {
		if p.ID == pairID {
			return p, i, nil
		}
	}
	return nil, 0, fmt.Errorf("draft: charge %q not found", pairID)
}

func (s *Session) tombstonePair(p *domain.ChargePair) {
	if p.Buy != nil {
		s.draft.TombstoneCharge(p.Buy.DBChargeID)
	}
	if p.Sell != nil {
		s.draft.TombstoneCharge(p.Sell.DBChargeID)
	}
}

func (s *Session) isWeightBasis(basisID string) bool {
	if s.refdata == nil {
		return false
	}
	return s.refdata.IsWeightBasis(basisID)
}

func ensureSell(p *domain.ChargePair) {
	if p.Sell == nil {
		qty := decimal.NewFromInt(1)
		if p.Buy != nil {
			qty = p.Buy.Quantity
		}
		p.Sell = &domain.ChargeSideAmount{Quantity: qty}
	}
}
