package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"freightq/internal/domain"
	"freightq/internal/store"
)

// Executor runs mutation plans against a storage collaborator. Every create
// is paired with a duplicate-detection fallback: a raced create is resolved
// by re-querying the natural key and adopting the existing row, never by
// surfacing the conflict.
type Executor struct {
	store store.QuoteStore
	log   *slog.Logger
}

// NewExecutor creates an Executor wired with the given store.
func NewExecutor(st store.QuoteStore, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{store: st, log: log}
}

// Execute runs the plan in order. On success it returns the mapping from
// draft placeholder ids (and pair-side refs) to canonical ids; the caller
// splices those into the draft with ApplyIDs and clears tombstones. Any step
// failing aborts the remaining plan; steps already applied stay applied, and
// rebuilding the plan against a fresh snapshot yields the smaller residual.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (map[string]string, error) {
	ids := make(map[string]string)
	resolve := func(id string) string {
		if canonical, ok := ids[id]; ok {
			return canonical
		}
		return id
	}

	for _, op := range plan.Ops {
		var err error
		switch op.Kind {
		case OpCreateOption:
			err = e.createOption(ctx, plan, op, ids)
		case OpUpdateOption:
			err = e.store.UpdateOption(ctx, op.Option)
		case OpDeleteOption:
			err = e.store.DeleteOption(ctx, op.TargetID)
		case OpDeleteLeg:
			err = e.store.DeleteLeg(ctx, op.TargetID)
		case OpDeleteCharge:
			err = e.store.DeleteCharge(ctx, op.TargetID)
		case OpCreateLeg:
			err = e.createLeg(ctx, op, ids, resolve)
		case OpUpdateLeg:
			rec := *op.Leg
			rec.OptionID = resolve(rec.OptionID)
			err = e.store.UpdateLeg(ctx, &rec)
		case OpCreateCharge:
			err = e.createCharge(ctx, op, ids, resolve)
		case OpUpdateCharge:
			rec := *op.Charge
			rec.OptionID = resolve(rec.OptionID)
			rec.LegID = resolve(rec.LegID)
			err = e.store.UpdateCharge(ctx, &rec)
		case OpUpdateTotals:
			err = e.updateTotals(ctx, op, resolve)
		default:
			err = fmt.Errorf("unknown op kind %q", op.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("reconcile: %s: %w", op.Kind, err)
		}
	}

	return ids, nil
}

func (e *Executor) createOption(ctx context.Context, plan *Plan, op Op, ids map[string]string) error {
	rec := *op.Option
	if domain.IsLocalID(rec.ID) {
		rec.ID = ""
	}
	id, err := e.store.CreateOption(ctx, &rec)
	if errors.Is(err, store.ErrConflict) {
		// Another process created the option for this version first; adopt
		// its id and push our content over it.
		existing, ferr := e.store.FindOptionByName(ctx, plan.VersionID, rec.OptionName)
		if ferr != nil {
			return fmt.Errorf("adopting conflicting option: %w", ferr)
		}
		e.log.Debug("adopted conflicting option", "option_id", existing.ID, "name", rec.OptionName)
		rec.ID = existing.ID
		if uerr := e.store.UpdateOption(ctx, &rec); uerr != nil {
			return uerr
		}
		id = existing.ID
	} else if err != nil {
		return err
	}
	if op.LocalID != "" {
		ids[op.LocalID] = id
	}
	return nil
}

func (e *Executor) createLeg(ctx context.Context, op Op, ids map[string]string, resolve func(string) string) error {
	rec := *op.Leg
	rec.OptionID = resolve(rec.OptionID)
	if domain.IsLocalID(rec.ID) {
		rec.ID = ""
	}
	id, err := e.store.CreateLeg(ctx, &rec)
	if errors.Is(err, store.ErrConflict) {
		existing, ferr := e.store.FindLegByPosition(ctx, rec.OptionID, rec.SortOrder)
		if ferr != nil {
			return fmt.Errorf("adopting conflicting leg: %w", ferr)
		}
		e.log.Debug("adopted conflicting leg", "leg_id", existing.ID, "sort_order", rec.SortOrder)
		rec.ID = existing.ID
		if uerr := e.store.UpdateLeg(ctx, &rec); uerr != nil {
			return uerr
		}
		id = existing.ID
	} else if err != nil {
		return err
	}
	if op.LocalID != "" {
		ids[op.LocalID] = id
	}
	return nil
}

func (e *Executor) createCharge(ctx context.Context, op Op, ids map[string]string, resolve func(string) string) error {
	rec := *op.Charge
	rec.OptionID = resolve(rec.OptionID)
	rec.LegID = resolve(rec.LegID)
	id, err := e.store.CreateCharge(ctx, &rec)
	if errors.Is(err, store.ErrConflict) {
		existing, ferr := e.store.FindChargeByKey(ctx, store.ChargeKey{
			OptionID:   rec.OptionID,
			LegID:      rec.LegID,
			CategoryID: rec.CategoryID,
			BasisID:    rec.BasisID,
			Side:       rec.Side,
			Note:       rec.Note,
		})
		if ferr != nil {
			return fmt.Errorf("adopting conflicting charge: %w", ferr)
		}
		e.log.Debug("adopted conflicting charge", "charge_id", existing.ID)
		rec.ID = existing.ID
		if uerr := e.store.UpdateCharge(ctx, &rec); uerr != nil {
			return uerr
		}
		id = existing.ID
	} else if err != nil {
		return err
	}
	if op.LocalID != "" {
		ids[op.LocalID] = id
	}
	return nil
}

// updateTotals is the second totals pass: re-aggregate from the persisted
// charge rows and persist the result. The first pass (in-memory values
// carried on the option upserts) must agree; a mismatch indicates drift and
// the store-derived figures win.
func (e *Executor) updateTotals(ctx context.Context, op Op, resolve func(string) string) error {
	optionID := resolve(op.TargetID)
	buy, sell, err := e.store.SumCharges(ctx, optionID)
	if err != nil {
		return err
	}
	if !buy.Equal(op.Totals.TotalBuy) || !sell.Equal(op.Totals.TotalSell) {
		e.log.Warn("totals passes disagree, using store aggregation",
			"option_id", optionID,
			"memory_buy", op.Totals.TotalBuy, "store_buy", buy,
			"memory_sell", op.Totals.TotalSell, "store_sell", sell)
	}
	return e.store.UpdateOptionTotals(ctx, optionID, store.TotalsRecord{
		TotalBuy:     buy,
		TotalSell:    sell,
		MarginAmount: sell.Sub(buy),
		TotalAmount:  sell,
	})
}
