package draft

import (
	"context"
	"fmt"

	"freightq/internal/audit"
	"freightq/internal/domain"
	"freightq/internal/pairing"
	"freightq/internal/pricing"
	"freightq/internal/reconcile"
	"freightq/internal/store"
)

// Save validates the draft and persists it. A quote that was never persisted
// goes through the atomic SaveQuote entry point; subsequent saves diff against
// the last snapshot and execute the minimal mutation plan. Canonical ids are
// spliced back and tombstones cleared only after the whole save succeeded; on
// failure the draft is left untouched and editable. Concurrent saves are
// rejected with ErrSaveInProgress.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	if s.draft == nil {
		s.mu.Unlock()
		return fmt.Errorf("draft: session not loaded")
	}

	s.state = StateValidating
	if res := validateDraft(s.draft); !res.OK() {
		s.state = StateEditing
		s.mu.Unlock()
		return res
	}

	s.saving = true
	s.state = StateSaving
	d := s.draft
	snap := s.snap
	s.mu.Unlock()

	// Mutations are refused while saving, so the draft is stable here even
	// though the lock is released for the storage round-trips.
	fresh, err := s.persist(ctx, d, snap)
	if err != nil {
		// A failed plan may have applied a prefix of its mutations. Re-query
		// so the next save diffs against the actual persisted state instead
		// of the pre-failure snapshot.
		if requeried, rerr := s.st.LoadSnapshot(ctx, d.VersionID); rerr == nil {
			fresh = requeried
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if fresh != nil {
		s.snap = fresh
	}
	if err != nil {
		s.state = StateEditing
		s.lastErr = err
		return err
	}
	s.state = StateEditing
	s.lastErr = nil
	return nil
}

func (s *Session) persist(ctx context.Context, d *domain.Draft, snap *store.Snapshot) (*store.Snapshot, error) {
	if d.QuoteID == "" {
		return s.firstSave(ctx, d)
	}

	plan := reconcile.BuildPlan(d, snap)
	if plan.IsEmpty() {
		return snap, nil
	}

	ids, err := reconcile.NewExecutor(s.st, s.log).Execute(ctx, plan)
	if err != nil {
		return nil, err
	}
	reconcile.ApplyIDs(d, ids)
	d.ClearTombstones()

	s.trail.FireAndForget(ctx, audit.Event{
		Action:   "quote_saved",
		TenantID: d.TenantID,
		QuoteID:  d.QuoteID,
		OptionID: d.SelectedOptionID,
		Detail:   fmt.Sprintf("%d mutation(s)", len(plan.Ops)),
	})

	fresh, err := s.st.LoadSnapshot(ctx, d.VersionID)
	if err != nil {
		return nil, fmt.Errorf("refreshing snapshot: %w", err)
	}
	return fresh, nil
}

// firstSave persists the whole draft through the transactional entry point,
// then rehydrates from the stored rows so the draft carries canonical ids.
func (s *Session) firstSave(ctx context.Context, d *domain.Draft) (*store.Snapshot, error) {
	quoteID, err := s.st.SaveQuote(ctx, saveRequest(d))
	if err != nil {
		return nil, fmt.Errorf("saving quote: %w", err)
	}
	d.QuoteID = quoteID

	s.trail.FireAndForget(ctx, audit.Event{
		Action:   "quote_created",
		TenantID: d.TenantID,
		QuoteID:  quoteID,
		OptionID: d.SelectedOptionID,
		Detail:   fmt.Sprintf("%d option(s)", len(d.Options)),
	})

	fresh, err := s.st.LoadSnapshot(ctx, d.VersionID)
	if err != nil {
		return nil, fmt.Errorf("refreshing snapshot: %w", err)
	}
	hydrateDraft(d, fresh, s.log)
	d.ClearTombstones()
	return fresh, nil
}

// saveRequest converts the draft into the nested atomic-save shape. Ids are
// irrelevant here; the store mints canonical ones throughout.
func saveRequest(d *domain.Draft) *store.SaveRequest {
	req := &store.SaveRequest{
		Quote: store.QuoteRecord{
			TenantID: d.TenantID,
			Status:   "draft",
		},
	}
	for _, o := range d.Options {
		so := store.SaveOption{
			Option: reconcile.OptionRecord(d, o, pricing.ComputeTotals(o)),
		}
		for i, leg := range o.Legs {
			sl := store.SaveLeg{Leg: reconcile.LegRecord(o.ID, leg, i)}
			for _, p := range leg.Charges {
				for _, line := range pairing.Expand(p, o.ID, leg.ID) {
					sl.Charges = append(sl.Charges, reconcile.ChargeRecord(line))
				}
			}
			so.Legs = append(so.Legs, sl)

			// Cargo figures ride along as one configuration per leg that
			// carries them.
			if leg.ActualWeightKg.IsPositive() || leg.VolumeM3.IsPositive() {
				req.CargoConfigurations = append(req.CargoConfigurations, store.CargoConfiguration{
					Quantity: 1,
					WeightKg: leg.ActualWeightKg,
					VolumeM3: leg.VolumeM3,
				})
			}
		}
		for _, p := range o.CombinedCharges {
			for _, line := range pairing.Expand(p, o.ID, "") {
				so.CombinedCharges = append(so.CombinedCharges, reconcile.ChargeRecord(line))
			}
		}
		req.Options = append(req.Options, so)
	}
	return req
}
