package reconcile

import (
	"freightq/internal/domain"
	"freightq/internal/pairing"
	"freightq/internal/pricing"
	"freightq/internal/store"
)

// desiredCharge is one charge line the draft wants persisted, with the
// splice-back ref used when it does not exist yet.
type desiredCharge struct {
	rec      store.ChargeRecord
	localRef string
}

// BuildPlan diffs the draft against the last persisted snapshot and returns
// the ordered mutation plan. Per entity the state machine is:
//
//   - in snapshot, not in draft        → delete
//   - in draft with a placeholder id   → create (canonical id spliced back)
//   - in draft, content differs        → update
//   - in draft, content unchanged      → no write
//   - id tombstoned                    → delete, winning over local presence
//
// Op order: option upserts, charge deletes, leg deletes, option deletes, leg
// upserts, charge upserts, totals. Children are deleted before their parents
// and created after them.
func BuildPlan(d *domain.Draft, snap *store.Snapshot) *Plan {
	plan := &Plan{VersionID: d.VersionID}

	legDeleted := func(id string) bool {
		_, ok := d.DeletedLegIDs[id]
		return ok
	}
	chargeDeleted := func(id string) bool {
		_, ok := d.DeletedChargeIDs[id]
		return ok
	}

	// Totals are computed from in-memory values here (first pass); the
	// executor re-aggregates from persisted charges (second pass) and the two
	// must agree.
	optionTotals := make(map[string]domain.Totals, len(d.Options))
	for _, o := range d.Options {
		optionTotals[o.ID] = pricing.ComputeTotals(o)
	}

	// Options whose charge set is touched by this plan need their persisted
	// totals re-derived even if they already look current.
	dirty := make(map[string]bool)

	// Option upserts come first: every child row needs its owning option
	// resolved before it can be written.
	for _, o := range d.Options {
		rec := OptionRecord(d, o, optionTotals[o.ID])
		if domain.IsLocalID(o.ID) {
			plan.add(Op{Kind: OpCreateOption, Option: &rec, LocalID: o.ID})
			dirty[o.ID] = true
			continue
		}
		snapRec, ok := snap.Option(o.ID)
		if !ok {
			// Canonical id missing from the snapshot: a previous partial run
			// may have been rolled back underneath us. Recreate with the same
			// id so retries stay idempotent.
			plan.add(Op{Kind: OpCreateOption, Option: &rec})
			dirty[o.ID] = true
			continue
		}
		// The snapshot's persisted totals are not part of the content diff;
		// they are re-derived every save by the totals step.
		masked := rec
		masked.TotalBuy = snapRec.TotalBuy
		masked.TotalSell = snapRec.TotalSell
		masked.MarginAmount = snapRec.MarginAmount
		masked.TotalAmount = snapRec.TotalAmount
		if !masked.Equal(snapRec) {
			plan.add(Op{Kind: OpUpdateOption, Option: &rec})
		}
	}

	// Collect the draft's desired legs and charges, skipping anything
	// tombstoned: deletion intent wins over stale local presence.
	type desiredLeg struct {
		rec     store.LegRecord
		localID string
	}
	var wantLegs []desiredLeg
	var wantCharges []desiredCharge

	for _, o := range d.Options {
		sortOrder := 0
		for _, leg := range o.Legs {
			if legDeleted(leg.ID) {
				continue
			}
			dl := desiredLeg{rec: LegRecord(o.ID, leg, sortOrder)}
			if domain.IsLocalID(leg.ID) {
				dl.localID = leg.ID
			}
			wantLegs = append(wantLegs, dl)
			sortOrder++

			for _, pair := range leg.Charges {
				wantCharges = append(wantCharges, desiredPairCharges(o.ID, leg.ID, pair, chargeDeleted)...)
			}
		}
		for _, pair := range o.CombinedCharges {
			wantCharges = append(wantCharges, desiredPairCharges(o.ID, "", pair, chargeDeleted)...)
		}
	}

	wantChargeByID := make(map[string]store.ChargeRecord)
	for _, dc := range wantCharges {
		if dc.rec.ID != "" {
			wantChargeByID[dc.rec.ID] = dc.rec
		}
	}

	// An interrupted execution can leave persisted rows the draft still
	// references through placeholder ids. Match them by natural key so a
	// retry adopts those rows instead of planning their deletion. Tombstoned
	// ids are never claimed: deletion intent wins.
	snapOptByName := make(map[string]string, len(snap.Options))
	for _, o := range snap.Options {
		snapOptByName[o.OptionName] = o.ID
	}
	optionAlias := make(map[string]string, len(d.Options))
	for _, o := range d.Options {
		if !domain.IsLocalID(o.ID) {
			optionAlias[o.ID] = o.ID
		} else if id, ok := snapOptByName[o.Name]; ok {
			optionAlias[o.ID] = id
		}
	}
	liveOptionIDs := make(map[string]bool, len(optionAlias))
	for _, id := range optionAlias {
		liveOptionIDs[id] = true
	}

	type legPos struct {
		optionID  string
		sortOrder int
	}
	snapLegByPos := make(map[legPos]string, len(snap.Legs))
	for _, l := range snap.Legs {
		snapLegByPos[legPos{l.OptionID, l.SortOrder}] = l.ID
	}
	legAlias := make(map[string]string, len(wantLegs))
	for _, dl := range wantLegs {
		if dl.localID == "" {
			legAlias[dl.rec.ID] = dl.rec.ID
			continue
		}
		optID, ok := optionAlias[dl.rec.OptionID]
		if !ok {
			continue
		}
		if id, ok := snapLegByPos[legPos{optID, dl.rec.SortOrder}]; ok && !legDeleted(id) {
			legAlias[dl.rec.ID] = id
		}
	}
	liveLegIDs := make(map[string]bool, len(legAlias))
	for _, id := range legAlias {
		liveLegIDs[id] = true
	}

	type chargeNatKey struct {
		optionID string
		legID    string
		category string
		basis    string
		side     string
		note     string
	}
	snapChargeByKey := make(map[chargeNatKey]string, len(snap.Charges))
	for _, c := range snap.Charges {
		snapChargeByKey[chargeNatKey{c.OptionID, c.LegID, c.CategoryID, c.BasisID, c.Side, c.Note}] = c.ID
	}
	claimedCharges := make(map[string]bool)
	for _, dc := range wantCharges {
		if dc.rec.ID != "" {
			continue
		}
		optID, ok := optionAlias[dc.rec.OptionID]
		if !ok {
			continue
		}
		legID := dc.rec.LegID
		if legID != "" {
			if legID, ok = legAlias[legID]; !ok {
				continue
			}
		}
		key := chargeNatKey{optID, legID, dc.rec.CategoryID, dc.rec.BasisID, dc.rec.Side, dc.rec.Note}
		if id, ok := snapChargeByKey[key]; ok && !chargeDeleted(id) {
			claimedCharges[id] = true
		}
	}

	// Deletes: orphaned charges before their legs, legs before their options.
	// Claimed rows stay; the matching create adopts them on conflict.
	for _, c := range snap.Charges {
		doomed := chargeDeleted(c.ID) ||
			!liveOptionIDs[c.OptionID] ||
			(c.LegID != "" && !liveLegIDs[c.LegID])
		_, wanted := wantChargeByID[c.ID]
		if doomed || (!wanted && !claimedCharges[c.ID]) {
			plan.add(Op{Kind: OpDeleteCharge, TargetID: c.ID})
			dirty[c.OptionID] = true
		}
	}
	for _, l := range snap.Legs {
		if legDeleted(l.ID) || !liveOptionIDs[l.OptionID] || !liveLegIDs[l.ID] {
			plan.add(Op{Kind: OpDeleteLeg, TargetID: l.ID})
		}
	}
	for _, o := range snap.Options {
		if !liveOptionIDs[o.ID] {
			plan.add(Op{Kind: OpDeleteOption, TargetID: o.ID})
		}
	}

	// Leg upserts.
	for _, dl := range wantLegs {
		rec := dl.rec
		if dl.localID != "" {
			plan.add(Op{Kind: OpCreateLeg, Leg: &rec, LocalID: dl.localID})
			continue
		}
		snapRec, ok := snap.Leg(rec.ID)
		if !ok {
			plan.add(Op{Kind: OpCreateLeg, Leg: &rec})
			continue
		}
		if rec != snapRec {
			plan.add(Op{Kind: OpUpdateLeg, Leg: &rec})
		}
	}

	// Charge upserts, expanded per pair side.
	for _, dc := range wantCharges {
		rec := dc.rec
		if rec.ID == "" {
			plan.add(Op{Kind: OpCreateCharge, Charge: &rec, LocalID: dc.localRef})
			dirty[rec.OptionID] = true
			continue
		}
		snapRec, ok := snap.Charge(rec.ID)
		if !ok {
			plan.add(Op{Kind: OpCreateCharge, Charge: &rec})
			dirty[rec.OptionID] = true
			continue
		}
		if !rec.Equal(snapRec) {
			plan.add(Op{Kind: OpUpdateCharge, Charge: &rec})
			dirty[rec.OptionID] = true
		}
	}

	// Totals last, from the now-authoritative charge set. Skipped when the
	// charge set is untouched and the persisted aggregates already agree, so
	// an unchanged draft diffs to an empty plan.
	for _, o := range d.Options {
		t := optionTotals[o.ID]
		snapRec, ok := snap.Option(o.ID)
		current := ok &&
			snapRec.TotalBuy.Equal(t.TotalBuy) &&
			snapRec.TotalSell.Equal(t.TotalSell) &&
			snapRec.MarginAmount.Equal(t.MarginAmount) &&
			snapRec.TotalAmount.Equal(t.TotalSell)
		if !dirty[o.ID] && current {
			continue
		}
		plan.add(Op{
			Kind:     OpUpdateTotals,
			TargetID: o.ID,
			Totals: &store.TotalsRecord{
				TotalBuy:     t.TotalBuy,
				TotalSell:    t.TotalSell,
				MarginAmount: t.MarginAmount,
				TotalAmount:  t.TotalSell,
			},
		})
	}

	return plan
}

// desiredPairCharges expands one pair into its desired charge records. Lines
// whose persisted id is tombstoned are skipped: the delete already in the
// plan must win. A pair with no populated side yields nothing.
func desiredPairCharges(optionID, legID string, pair *domain.ChargePair, chargeDeleted func(string) bool) []desiredCharge {
	var out []desiredCharge
	for _, line := range pairing.Expand(pair, optionID, legID) {
		if line.ID != "" && chargeDeleted(line.ID) {
			continue
		}
		dc := desiredCharge{rec: ChargeRecord(line)}
		if line.ID == "" {
			dc.localRef = chargeLocalRef(pair.ID, line.Side)
		}
		out = append(out, dc)
	}
	return out
}

// OptionRecord converts a draft option into its persisted shape, with the
// given computed totals.
func OptionRecord(d *domain.Draft, o *domain.Option, totals domain.Totals) store.OptionRecord {
	transit := 0
	if o.TransitDays != nil {
		transit = *o.TransitDays
	}
	valid := ""
	if !o.ValidUntil.IsZero() {
		valid = o.ValidUntil.Format("2006-01-02")
	}
	return store.OptionRecord{
		ID:                 o.ID,
		QuotationVersionID: d.VersionID,
		OptionName:         o.Name,
		CarrierID:          o.CarrierID,
		CarrierName:        o.CarrierName,
		ServiceType:        o.ServiceType,
		TransitTime:        transit,
		ValidUntil:         valid,
		Currency:           o.Currency,
		MarginPercentage:   o.MarginPct,
		TotalBuy:           totals.TotalBuy,
		TotalSell:          totals.TotalSell,
		MarginAmount:       totals.MarginAmount,
		TotalAmount:        totals.TotalSell,
		IsSelected:         o.ID == d.SelectedOptionID,
		Source:             string(o.Source),
	}
}

// LegRecord converts a draft leg into its persisted shape.
func LegRecord(optionID string, l *domain.Leg, sortOrder int) store.LegRecord {
	return store.LegRecord{
		ID:                      l.ID,
		OptionID:                optionID,
		TransportMode:           string(l.Mode),
		LegType:                 string(l.Type),
		OriginLocationName:      l.Origin,
		DestinationLocationName: l.Destination,
		CarrierID:               l.CarrierID,
		ServiceOnlyCategory:     l.ServiceOnlyCategory,
		SortOrder:               sortOrder,
	}
}

// ChargeRecord converts an expanded charge line into its persisted shape.
func ChargeRecord(line domain.ChargeLine) store.ChargeRecord {
	return store.ChargeRecord{
		ID:         line.ID,
		OptionID:   line.OptionID,
		LegID:      line.LegID,
		CategoryID: line.CategoryID,
		BasisID:    line.BasisID,
		CurrencyID: line.CurrencyID,
		Unit:       line.Unit,
		Quantity:   line.Quantity,
		Rate:       line.Rate,
		Amount:     line.Amount,
		Side:       string(line.Side),
		Note:       line.Note,
	}
}
