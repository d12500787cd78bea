// Package reconcile diffs an edited draft against the last persisted snapshot
// and produces the minimal ordered mutation plan a storage collaborator
// executes. Unchanged rows keep their identity and produce no writes; a
// half-failed execution can be retried from scratch because re-diffing
// partially applied state yields a smaller residual plan.
package reconcile

import (
	"freightq/internal/domain"
	"freightq/internal/store"
)

// OpKind enumerates mutation plan steps.
type OpKind string

const (
	OpCreateOption OpKind = "create_option"
	OpUpdateOption OpKind = "update_option"
	OpDeleteOption OpKind = "delete_option"
	OpCreateLeg    OpKind = "create_leg"
	OpUpdateLeg    OpKind = "update_leg"
	OpDeleteLeg    OpKind = "delete_leg"
	OpCreateCharge OpKind = "create_charge"
	OpUpdateCharge OpKind = "update_charge"
	OpDeleteCharge OpKind = "delete_charge"
	OpUpdateTotals OpKind = "update_totals"
)

// Op is one step of a mutation plan. Exactly one payload field is set,
// matching the kind. LocalID names the draft-side placeholder a create must
// map to its canonical id; TargetID carries the row id for deletes and the
// option id for totals updates.
type Op struct {
	Kind     OpKind
	Option   *store.OptionRecord
	Leg      *store.LegRecord
	Charge   *store.ChargeRecord
	Totals   *store.TotalsRecord
	LocalID  string
	TargetID string
}

// Plan is an ordered list of mutations for one quotation version. Order is
// load-bearing: parents are created before children, and children are deleted
// before their parents.
type Plan struct {
	VersionID string
	Ops       []Op
}

func (p *Plan) add(op Op) {
	p.Ops = append(p.Ops, op)
}

// IsEmpty reports whether the plan contains no mutations.
func (p *Plan) IsEmpty() bool {
	return len(p.Ops) == 0
}

// Counts returns the number of ops per kind, for logging and tests.
func (p *Plan) Counts() map[OpKind]int {
	out := make(map[OpKind]int)
	for _, op := range p.Ops {
		out[op.Kind]++
	}
	return out
}

// chargeLocalRef builds the splice-back key for a created charge side. Pair
// ids are client-side only, so the ref ties a canonical charge id back to the
// right side of the right pair.
func chargeLocalRef(pairID string, side domain.ChargeSide) string {
	return pairID + "/" + string(side)
}

// ApplyIDs splices canonical ids from a successful execution back into the
// draft: placeholder option and leg ids are replaced, and created charge ids
// land on the owning pair side. Called only after the whole plan succeeded.
func ApplyIDs(d *domain.Draft, ids map[string]string) {
	for _, o := range d.Options {
		if canonical, ok := ids[o.ID]; ok {
			if d.SelectedOptionID == o.ID {
				d.SelectedOptionID = canonical
			}
			o.ID = canonical
		}
		for _, leg := range o.Legs {
			if canonical, ok := ids[leg.ID]; ok {
				leg.ID = canonical
			}
			applyChargeIDs(leg.Charges, ids)
		}
		applyChargeIDs(o.CombinedCharges, ids)
	}
}

func applyChargeIDs(pairs []*domain.ChargePair, ids map[string]string) {
	for _, p := range pairs {
		if p.Buy != nil {
			if id, ok := ids[chargeLocalRef(p.ID, domain.SideBuy)]; ok {
				p.Buy.DBChargeID = id
			}
		}
		if p.Sell != nil {
			if id, ok := ids[chargeLocalRef(p.ID, domain.SideSell)]; ok {
				p.Sell.DBChargeID = id
			}
		}
	}
}
