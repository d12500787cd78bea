package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"freightq/internal/domain"
	"freightq/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ---------------------------------------------------------------------------
// In-memory fake store
// ---------------------------------------------------------------------------

type memStore struct {
	seq     int
	options map[string]store.OptionRecord
	legs    map[string]store.LegRecord
	charges map[string]store.ChargeRecord

	// failOn aborts the named call once, simulating a mid-plan crash.
	failOn string
}

func newMemStore() *memStore {
	return &memStore{
		options: make(map[string]store.OptionRecord),
		legs:    make(map[string]store.LegRecord),
		charges: make(map[string]store.ChargeRecord),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) trip(name string) error {
	if m.failOn == name {
		m.failOn = ""
		return fmt.Errorf("injected failure at %s", name)
	}
	return nil
}

func (m *memStore) LoadSnapshot(_ context.Context, versionID string) (*store.Snapshot, error) {
	snap := &store.Snapshot{}
	for _, o := range m.options {
		if o.QuotationVersionID != versionID {
			continue
		}
		snap.Options = append(snap.Options, o)
		for _, l := range m.legs {
			if l.OptionID == o.ID {
				snap.Legs = append(snap.Legs, l)
			}
		}
		for _, c := range m.charges {
			if c.OptionID == o.ID {
				snap.Charges = append(snap.Charges, c)
			}
		}
	}
	return snap, nil
}

func (m *memStore) SaveQuote(_ context.Context, _ *store.SaveRequest) (string, error) {
	return "", fmt.Errorf("not used in these tests")
}

func (m *memStore) CreateOption(_ context.Context, rec *store.OptionRecord) (string, error) {
	if err := m.trip("create_option"); err != nil {
		return "", err
	}
	for _, o := range m.options {
		if o.QuotationVersionID == rec.QuotationVersionID && o.OptionName == rec.OptionName {
			return "", store.ErrConflict
		}
	}
	r := *rec
	if r.ID == "" {
		r.ID = m.nextID("opt")
	}
	m.options[r.ID] = r
	return r.ID, nil
}

func (m *memStore) UpdateOption(_ context.Context, rec *store.OptionRecord) error {
	if _, ok := m.options[rec.ID]; !ok {
		return store.ErrNotFound
	}
	m.options[rec.ID] = *rec
	return nil
}

func (m *memStore) DeleteOption(_ context.Context, id string) error {
	delete(m.options, id)
	return nil
}

func (m *memStore) FindOptionByName(_ context.Context, versionID, name string) (*store.OptionRecord, error) {
	for _, o := range m.options {
		if o.QuotationVersionID == versionID && o.OptionName == name {
			r := o
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpdateOptionTotals(_ context.Context, optionID string, totals store.TotalsRecord) error {
	o, ok := m.options[optionID]
	if !ok {
		return store.ErrNotFound
	}
	o.TotalBuy = totals.TotalBuy
	o.TotalSell = totals.TotalSell
	o.MarginAmount = totals.MarginAmount
	o.TotalAmount = totals.TotalAmount
	m.options[optionID] = o
	return nil
}

func (m *memStore) SumCharges(_ context.Context, optionID string) (decimal.Decimal, decimal.Decimal, error) {
	buy, sell := decimal.Zero, decimal.Zero
	for _, c := range m.charges {
		if c.OptionID != optionID {
			continue
		}
		switch c.Side {
		case "buy":
			buy = buy.Add(c.Amount)
		case "sell":
			sell = sell.Add(c.Amount)
		}
	}
	return buy, sell, nil
}

func (m *memStore) CreateLeg(_ context.Context, rec *store.LegRecord) (string, error) {
	if err := m.trip("create_leg"); err != nil {
		return "", err
	}
	for _, l := range m.legs {
		if l.OptionID == rec.OptionID && l.SortOrder == rec.SortOrder {
			return "", store.ErrConflict
		}
	}
	r := *rec
	if r.ID == "" {
		r.ID = m.nextID("leg")
	}
	m.legs[r.ID] = r
	return r.ID, nil
}

func (m *memStore) UpdateLeg(_ context.Context, rec *store.LegRecord) error {
	if _, ok := m.legs[rec.ID]; !ok {
		return store.ErrNotFound
	}
	m.legs[rec.ID] = *rec
	return nil
}

func (m *memStore) DeleteLeg(_ context.Context, id string) error {
	delete(m.legs, id)
	return nil
}

func (m *memStore) FindLegByPosition(_ context.Context, optionID string, sortOrder int) (*store.LegRecord, error) {
	for _, l := range m.legs {
		if l.OptionID == optionID && l.SortOrder == sortOrder {
			r := l
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) CreateCharge(_ context.Context, rec *store.ChargeRecord) (string, error) {
	if err := m.trip("create_charge"); err != nil {
		return "", err
	}
	for _, c := range m.charges {
		if c.OptionID == rec.OptionID && c.LegID == rec.LegID &&
			c.CategoryID == rec.CategoryID && c.BasisID == rec.BasisID &&
			c.Side == rec.Side && c.Note == rec.Note {
			return "", store.ErrConflict
		}
	}
	r := *rec
	if r.ID == "" {
		r.ID = m.nextID("chg")
	}
	m.charges[r.ID] = r
	return r.ID, nil
}

func (m *memStore) UpdateCharge(_ context.Context, rec *store.ChargeRecord) error {
	if _, ok := m.charges[rec.ID]; !ok {
		return store.ErrNotFound
	}
	m.charges[rec.ID] = *rec
	return nil
}

func (m *memStore) DeleteCharge(_ context.Context, id string) error {
	delete(m.charges, id)
	return nil
}

func (m *memStore) FindChargeByKey(_ context.Context, key store.ChargeKey) (*store.ChargeRecord, error) {
	for _, c := range m.charges {
		if c.OptionID == key.OptionID && c.LegID == key.LegID &&
			c.CategoryID == key.CategoryID && c.BasisID == key.BasisID &&
			c.Side == key.Side && c.Note == key.Note {
			r := c
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

var _ store.QuoteStore = (*memStore)(nil)

// ---------------------------------------------------------------------------
// Draft fixtures
// ---------------------------------------------------------------------------

// newFreshDraft builds an unsaved draft: one option, one ocean leg, one paired
// freight charge, plus a combined documentation fee.
func newFreshDraft() *domain.Draft {
	d := domain.NewDraft("tenant-1", "", "version-1")
	o := &domain.Option{
		ID:        domain.NewLocalID(),
		Name:      "Ocean Direct",
		Currency:  "USD",
		MarginPct: dec("20"),
		Source:    domain.SourceManual,
	}
	leg := &domain.Leg{
		ID:          domain.NewLocalID(),
		Mode:        domain.ModeOcean,
		Type:        domain.LegTransport,
		Origin:      "Shanghai",
		Destination: "Rotterdam",
		Charges: []*domain.ChargePair{
			{
				ID:         domain.NewPairID(),
				CategoryID: "cat-freight",
				BasisID:    "basis-container",
				CurrencyID: "USD",
				Unit:       "container",
				Buy:        &domain.ChargeSideAmount{Quantity: dec("2"), Rate: dec("600")},
				Sell:       &domain.ChargeSideAmount{Quantity: dec("2"), Rate: dec("750")},
			},
		},
	}
	o.Legs = []*domain.Leg{leg}
	o.CombinedCharges = []*domain.ChargePair{
		{
			ID:         domain.NewPairID(),
			CategoryID: "cat-docs",
			BasisID:    "basis-flat",
			CurrencyID: "USD",
			Unit:       "shipment",
			Sell:       &domain.ChargeSideAmount{Quantity: dec("1"), Rate: dec("50")},
		},
	}
	d.Options = []*domain.Option{o}
	d.SelectedOptionID = o.ID
	return d
}

// saveDraft reconciles the draft into the store and splices ids back.
func saveDraft(t *testing.T, d *domain.Draft, st store.QuoteStore) {
	t.Helper()
	ctx := context.Background()
	snap, err := st.LoadSnapshot(ctx, d.VersionID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	plan := BuildPlan(d, snap)
	ids, err := NewExecutor(st, nil).Execute(ctx, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ApplyIDs(d, ids)
	d.ClearTombstones()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBuildPlanFreshDraftCreatesEverything(t *testing.T) {
	d := newFreshDraft()
	plan := BuildPlan(d, &store.Snapshot{})

	counts := plan.Counts()
	if got, want := counts[OpCreateOption], 1; got != want {
		t.Errorf("create_option ops = %d, want %d", got, want)
	}
	if got, want := counts[OpCreateLeg], 1; got != want {
		t.Errorf("create_leg ops = %d, want %d", got, want)
	}
	if got, want := counts[OpCreateCharge], 3; got != want {
		t.Errorf("create_charge ops = %d, want %d", got, want)
	}
	if got, want := counts[OpUpdateTotals], 1; got != want {
		t.Errorf("update_totals ops = %d, want %d", got, want)
	}
	for _, k := range []OpKind{OpUpdateOption, OpUpdateLeg, OpUpdateCharge, OpDeleteOption, OpDeleteLeg, OpDeleteCharge} {
		if counts[k] != 0 {
			t.Errorf("unexpected %s op in fresh-draft plan", k)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	snap, err := st.LoadSnapshot(context.Background(), d.VersionID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	plan := BuildPlan(d, snap)
	if !plan.IsEmpty() {
		t.Errorf("unchanged draft produced %d ops, want empty plan: %v", len(plan.Ops), plan.Counts())
	}
}

func TestReconcileSplicesCanonicalIDs(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	o := d.Options[0]
	if domain.IsLocalID(o.ID) {
		t.Errorf("option id %q still a placeholder after save", o.ID)
	}
	if d.SelectedOptionID != o.ID {
		t.Errorf("SelectedOptionID = %q, want %q", d.SelectedOptionID, o.ID)
	}
	leg := o.Legs[0]
	if domain.IsLocalID(leg.ID) {
		t.Errorf("leg id %q still a placeholder after save", leg.ID)
	}
	pair := leg.Charges[0]
	if pair.Buy.DBChargeID == "" || pair.Sell.DBChargeID == "" {
		t.Errorf("pair sides missing persisted ids: buy=%q sell=%q", pair.Buy.DBChargeID, pair.Sell.DBChargeID)
	}
	if pair.Buy.DBChargeID == pair.Sell.DBChargeID {
		t.Errorf("buy and sell sides share charge id %q", pair.Buy.DBChargeID)
	}
	combined := o.CombinedCharges[0]
	if combined.Sell.DBChargeID == "" {
		t.Error("combined sell side missing persisted id")
	}
}

func TestReconcileRateEditUpdatesInPlace(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	pair := d.Options[0].Legs[0].Charges[0]
	buyID := pair.Buy.DBChargeID
	pair.Buy.Rate = dec("650")
	pair.Buy.Amount = pair.Buy.Quantity.Mul(pair.Buy.Rate)

	snap, _ := st.LoadSnapshot(context.Background(), d.VersionID)
	plan := BuildPlan(d, snap)
	counts := plan.Counts()
	if got, want := counts[OpUpdateCharge], 1; got != want {
		t.Fatalf("update_charge ops = %d, want %d (counts %v)", got, want, counts)
	}
	if counts[OpCreateCharge] != 0 || counts[OpDeleteCharge] != 0 {
		t.Errorf("rate edit produced create/delete ops: %v", counts)
	}
	if got, want := counts[OpUpdateTotals], 1; got != want {
		t.Errorf("update_totals ops = %d, want %d", got, want)
	}

	saveDraft(t, d, st)
	if got := pair.Buy.DBChargeID; got != buyID {
		t.Errorf("buy charge id changed across update: got %q, want %q", got, buyID)
	}
	persisted := st.charges[buyID]
	if got, want := persisted.Amount, dec("1300"); !got.Equal(want) {
		t.Errorf("persisted buy amount = %s, want %s", got, want)
	}
	opt := st.options[d.Options[0].ID]
	if got, want := opt.TotalBuy, dec("1300"); !got.Equal(want) {
		t.Errorf("persisted total buy = %s, want %s", got, want)
	}
}

// Removing a persisted leg must plan deletes for the leg and its charges,
// never updates, even though related rows still sit in the snapshot.
func TestReconcileTombstoneWinsOverUpdate(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	o := d.Options[0]
	leg := o.Legs[0]
	legID := leg.ID
	chargeIDs := []string{leg.Charges[0].Buy.DBChargeID, leg.Charges[0].Sell.DBChargeID}

	d.TombstoneLeg(legID)
	for _, id := range chargeIDs {
		d.TombstoneCharge(id)
	}
	o.Legs = nil

	snap, _ := st.LoadSnapshot(context.Background(), d.VersionID)
	plan := BuildPlan(d, snap)
	for _, op := range plan.Ops {
		switch op.Kind {
		case OpUpdateLeg, OpCreateLeg:
			t.Errorf("removed leg produced %s op", op.Kind)
		case OpUpdateCharge, OpCreateCharge:
			t.Errorf("removed leg's charge produced %s op", op.Kind)
		}
	}
	counts := plan.Counts()
	if got, want := counts[OpDeleteLeg], 1; got != want {
		t.Errorf("delete_leg ops = %d, want %d", got, want)
	}
	if got, want := counts[OpDeleteCharge], 2; got != want {
		t.Errorf("delete_charge ops = %d, want %d", got, want)
	}

	saveDraft(t, d, st)
	if _, ok := st.legs[legID]; ok {
		t.Error("leg row survived reconcile")
	}
	for _, id := range chargeIDs {
		if _, ok := st.charges[id]; ok {
			t.Errorf("charge row %s survived reconcile", id)
		}
	}
	if len(d.DeletedLegIDs) != 0 || len(d.DeletedChargeIDs) != 0 {
		t.Error("tombstones not cleared after confirmed save")
	}
}

// A tombstoned charge stays deleted even when the pair still carries its
// stale persisted id in the draft.
func TestReconcileTombstonedChargeSkipsUpsert(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	pair := d.Options[0].Legs[0].Charges[0]
	sellID := pair.Sell.DBChargeID
	d.TombstoneCharge(sellID)
	pair.Sell = nil

	snap, _ := st.LoadSnapshot(context.Background(), d.VersionID)
	plan := BuildPlan(d, snap)
	var deletes, updates int
	for _, op := range plan.Ops {
		if op.Kind == OpDeleteCharge && op.TargetID == sellID {
			deletes++
		}
		if op.Kind == OpUpdateCharge && op.Charge.ID == sellID {
			updates++
		}
	}
	if deletes != 1 {
		t.Errorf("delete ops for tombstoned charge = %d, want 1", deletes)
	}
	if updates != 0 {
		t.Errorf("update ops for tombstoned charge = %d, want 0", updates)
	}
}

func TestReconcilePlanOrdering(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	// Mutate so the plan holds creates, deletes, and totals at once.
	o := d.Options[0]
	docPair := o.CombinedCharges[0]
	d.TombstoneCharge(docPair.Sell.DBChargeID)
	o.CombinedCharges = nil
	o.Legs = append(o.Legs, &domain.Leg{
		ID:          domain.NewLocalID(),
		Mode:        domain.ModeRoad,
		Type:        domain.LegTransport,
		Origin:      "Rotterdam",
		Destination: "Duisburg",
		Charges: []*domain.ChargePair{
			{
				ID:         domain.NewPairID(),
				CategoryID: "cat-trucking",
				BasisID:    "basis-flat",
				CurrencyID: "USD",
				Unit:       "trip",
				Buy:        &domain.ChargeSideAmount{Quantity: dec("1"), Rate: dec("200")},
			},
		},
	})

	snap, _ := st.LoadSnapshot(context.Background(), d.VersionID)
	plan := BuildPlan(d, snap)

	rank := map[OpKind]int{
		OpCreateOption: 0, OpUpdateOption: 0,
		OpDeleteCharge: 1,
		OpDeleteLeg:    2,
		OpDeleteOption: 3,
		OpCreateLeg:    4, OpUpdateLeg: 4,
		OpCreateCharge: 5, OpUpdateCharge: 5,
		OpUpdateTotals: 6,
	}
	last := -1
	for i, op := range plan.Ops {
		r := rank[op.Kind]
		if r < last {
			t.Fatalf("op %d (%s) out of order: %v", i, op.Kind, plan.Ops)
		}
		last = r
	}
}

func TestExecutorAdoptsConflictingRows(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	// Another writer already persisted the same option, leg, and charge keys.
	other := newFreshDraft()
	saveDraft(t, other, st)
	existingOptID := other.Options[0].ID
	existingLegID := other.Options[0].Legs[0].ID
	existingBuyID := other.Options[0].Legs[0].Charges[0].Buy.DBChargeID

	// This session composed the same draft independently and saves second.
	d := newFreshDraft()
	d.Options[0].MarginPct = dec("25")
	plan := BuildPlan(d, &store.Snapshot{})
	ids, err := NewExecutor(st, nil).Execute(ctx, plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ApplyIDs(d, ids)

	if got := d.Options[0].ID; got != existingOptID {
		t.Errorf("adopted option id = %q, want %q", got, existingOptID)
	}
	if got := d.Options[0].Legs[0].ID; got != existingLegID {
		t.Errorf("adopted leg id = %q, want %q", got, existingLegID)
	}
	if got := d.Options[0].Legs[0].Charges[0].Buy.DBChargeID; got != existingBuyID {
		t.Errorf("adopted buy charge id = %q, want %q", got, existingBuyID)
	}
	if got, want := len(st.options), 1; got != want {
		t.Errorf("option rows = %d, want %d", got, want)
	}
	// Adoption pushes the loser's content over the winner's row.
	if got, want := st.options[existingOptID].MarginPercentage, dec("25"); !got.Equal(want) {
		t.Errorf("adopted option margin = %s, want %s", got, want)
	}
}

// A plan that dies mid-flight leaves applied steps applied; re-diffing the
// draft against a fresh snapshot yields only the residual work.
func TestReconcileRetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := newFreshDraft()

	st.failOn = "create_charge"
	plan := BuildPlan(d, &store.Snapshot{})
	if _, err := NewExecutor(st, nil).Execute(ctx, plan); err == nil {
		t.Fatal("Execute succeeded despite injected failure")
	}

	// Option and leg landed before the failure; the draft still holds
	// placeholders because ids are only spliced on full success.
	if got, want := len(st.options), 1; got != want {
		t.Fatalf("option rows after failure = %d, want %d", got, want)
	}
	if got, want := len(st.charges), 0; got != want {
		t.Fatalf("charge rows after failure = %d, want %d", got, want)
	}

	// The retry plan must claim the already-persisted rows by natural key
	// rather than delete rows the draft still references through
	// placeholders.
	partial, _ := st.LoadSnapshot(ctx, d.VersionID)
	retry := BuildPlan(d, partial)
	counts := retry.Counts()
	if counts[OpDeleteOption] != 0 || counts[OpDeleteLeg] != 0 || counts[OpDeleteCharge] != 0 {
		t.Fatalf("retry plan deletes partially persisted rows: %v", counts)
	}

	// Retry from scratch. The creates for the already-persisted option and leg
	// conflict on their natural keys and get adopted instead of duplicated.
	saveDraft(t, d, st)
	if got, want := len(st.options), 1; got != want {
		t.Errorf("option rows after retry = %d, want %d", got, want)
	}
	if got, want := len(st.legs), 1; got != want {
		t.Errorf("leg rows after retry = %d, want %d", got, want)
	}
	if got, want := len(st.charges), 3; got != want {
		t.Errorf("charge rows after retry = %d, want %d", got, want)
	}

	snap, _ := st.LoadSnapshot(ctx, d.VersionID)
	if residual := BuildPlan(d, snap); !residual.IsEmpty() {
		t.Errorf("post-retry plan not empty: %v", residual.Counts())
	}
}

// The executor's second totals pass aggregates from persisted rows; when the
// in-memory figures drift the store-derived numbers win.
func TestExecutorTotalsStoreAggregationWins(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)
	optID := d.Options[0].ID

	plan := &Plan{VersionID: d.VersionID}
	plan.add(Op{
		Kind:     OpUpdateTotals,
		TargetID: optID,
		Totals: &store.TotalsRecord{
			TotalBuy:    dec("999"),
			TotalSell:   dec("999"),
			TotalAmount: dec("999"),
		},
	})
	if _, err := NewExecutor(st, nil).Execute(ctx, plan); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	opt := st.options[optID]
	if got, want := opt.TotalBuy, dec("1200"); !got.Equal(want) {
		t.Errorf("total buy = %s, want %s", got, want)
	}
	if got, want := opt.TotalSell, dec("1550"); !got.Equal(want) {
		t.Errorf("total sell = %s, want %s", got, want)
	}
	if got, want := opt.MarginAmount, dec("350"); !got.Equal(want) {
		t.Errorf("margin amount = %s, want %s", got, want)
	}
}

func TestReconcileDeleteOptionCascades(t *testing.T) {
	st := newMemStore()
	d := newFreshDraft()
	saveDraft(t, d, st)

	second := &domain.Option{
		ID:       domain.NewLocalID(),
		Name:     "Air Express",
		Currency: "USD",
		Source:   domain.SourceManual,
	}
	d.Options = append(d.Options, second)
	saveDraft(t, d, st)

	// Drop the first option entirely.
	removed := d.Options[0]
	d.Options = d.Options[1:]
	d.SelectedOptionID = d.Options[0].ID

	snap, _ := st.LoadSnapshot(context.Background(), d.VersionID)
	plan := BuildPlan(d, snap)
	counts := plan.Counts()
	if got, want := counts[OpDeleteOption], 1; got != want {
		t.Errorf("delete_option ops = %d, want %d", got, want)
	}
	if got, want := counts[OpDeleteLeg], 1; got != want {
		t.Errorf("delete_leg ops = %d, want %d", got, want)
	}
	if got, want := counts[OpDeleteCharge], 3; got != want {
		t.Errorf("delete_charge ops = %d, want %d", got, want)
	}

	saveDraft(t, d, st)
	if _, ok := st.options[removed.ID]; ok {
		t.Error("removed option row survived reconcile")
	}
	if got, want := len(st.legs), 0; got != want {
		t.Errorf("leg rows = %d, want %d", got, want)
	}
	if got, want := len(st.charges), 0; got != want {
		t.Errorf("charge rows = %d, want %d", got, want)
	}
}
