// Package draft owns the authoring session: a single-writer state machine
// over one in-memory Draft, its step-gated navigation, mutation API,
// validation, and save flow.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"freightq/internal/audit"
	"freightq/internal/domain"
	"freightq/internal/pairing"
	"freightq/internal/pricing"
	"freightq/internal/refdata"
	"freightq/internal/store"
)

// State is the session's lifecycle phase.
type State string

const (
	StateLoading    State = "loading"
	StateEditing    State = "editing"
	StateValidating State = "validating"
	StateSaving     State = "saving"
	StateError      State = "error"
)

// Step is the authoring wizard position within the editing state. Forward
// navigation is gated by CanProceed.
type Step int

const (
	StepDetails Step = iota
	StepLegs
	StepCharges
	StepReview
)

func (s Step) String() string {
	switch s {
	case StepDetails:
		return "details"
	case StepLegs:
		return "legs"
	case StepCharges:
		return "charges"
	case StepReview:
		return "review"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ErrSaveInProgress is returned when a save or mutation is attempted while a
// save is already running.
var ErrSaveInProgress = errors.New("draft: save already in progress")

// Deps wires a Session's collaborators. Zero-value fields fall back to
// working defaults where one exists.
type Deps struct {
	Store      store.QuoteStore
	Refdata    *refdata.Cache
	Policy     pricing.Policy
	AutoMargin bool
	Debounce   time.Duration
	Trail      *audit.Trail
	Log        *slog.Logger
}

// Session is the exclusive owner of one draft. All access to the draft goes
// through the session mutex; the debounced recomputer re-enters through the
// same lock when its timers fire.
type Session struct {
	mu sync.Mutex

	st         store.QuoteStore
	refdata    *refdata.Cache
	policy     pricing.Policy
	autoMargin bool
	recomputer *pricing.Recomputer
	trail      *audit.Trail
	log        *slog.Logger

	draft   *domain.Draft
	snap    *store.Snapshot
	state   State
	step    Step
	saving  bool
	lastErr error
}

// NewSession creates a Session in the loading state. Call Load or NewQuote
// before anything else.
func NewSession(deps Deps) *Session {
	if deps.Policy == nil {
		deps.Policy = pricing.MarginOnSell
	}
	if deps.Debounce <= 0 {
		deps.Debounce = 300 * time.Millisecond
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Session{
		st:         deps.Store,
		refdata:    deps.Refdata,
		policy:     deps.Policy,
		autoMargin: deps.AutoMargin,
		recomputer: pricing.NewRecomputer(deps.Debounce),
		trail:      deps.Trail,
		log:        deps.Log,
		snap:       &store.Snapshot{},
		state:      StateLoading,
	}
}

// NewQuote starts a fresh unsaved draft for the given tenant and version and
// enters the editing state.
func (s *Session) NewQuote(tenantID, versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = domain.NewDraft(tenantID, "", versionID)
	s.snap = &store.Snapshot{}
	s.state = StateEditing
	s.step = StepDetails
	s.lastErr = nil
}

// Load hydrates the draft from the persisted state of an existing quote
// version and enters the editing state. A load failure enters the error
// state.
func (s *Session) Load(ctx context.Context, tenantID, quoteID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateLoading

	snap, err := s.st.LoadSnapshot(ctx, versionID)
	if err != nil {
		s.state = StateError
		s.lastErr = fmt.Errorf("loading draft: %w", err)
		return s.lastErr
	}

	d := domain.NewDraft(tenantID, quoteID, versionID)
	hydrateDraft(d, snap, s.log)

	s.draft = d
	s.snap = snap
	s.state = StateEditing
	s.step = StepDetails
	s.lastErr = nil
	return nil
}

// Close tears down the session's debounce timers. The draft itself is
// discarded with the session.
func (s *Session) Close() {
	s.recomputer.Close()
}

// Draft exposes the underlying draft for read access. Callers must not
// mutate it directly; mutations go through the session API.
func (s *Session) Draft() *domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Step returns the current wizard step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Err returns the error recorded by the last failed load or save.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Pending reports the number of debounced recomputes outstanding.
func (s *Session) Pending() int {
	return s.recomputer.Pending()
}

// ---------------------------------------------------------------------------
// Navigation
// ---------------------------------------------------------------------------

// CanProceed reports whether the current step's gate is satisfied.
func (s *Session) CanProceed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canProceed()
}

// Next advances to the following step when the current gate passes.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing {
		return fmt.Errorf("draft: cannot navigate in state %q", s.state)
	}
	if s.step == StepReview {
		return errors.New("draft: already at review")
	}
	if !s.canProceed() {
		return fmt.Errorf("draft: step %s incomplete", s.step)
	}
	s.step++
	return nil
}

// Back returns to the previous step. Backward navigation is never gated.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == StepDetails {
		return errors.New("draft: already at details")
	}
	s.step--
	return nil
}

func (s *Session) canProceed() bool {
	o, ok := s.draft.SelectedOption()
	switch s.step {
	case StepDetails:
		return ok && o.Name != "" && o.Currency != ""
	case StepLegs:
		if !ok {
			return false
		}
		for _, leg := range o.Legs {
			if !legComplete(leg) {
				return false
			}
		}
		return true
	case StepCharges:
		return ok
	}
	return false
}

// legComplete is the per-leg gate: transport legs need a mode and a route,
// service legs need their category, and air legs need a positive chargeable
// weight before weight-priced charges can be entered.
func legComplete(leg *domain.Leg) bool {
	if leg.Mode == "" {
		return false
	}
	if leg.Type == domain.LegService {
		return leg.ServiceOnlyCategory != ""
	}
	if leg.Origin == "" || leg.Destination == "" {
		return false
	}
	if leg.Mode == domain.ModeAir {
		return pricing.ChargeableWeight(leg.Mode, leg.ActualWeightKg, leg.VolumeM3).IsPositive()
	}
	return true
}

// ---------------------------------------------------------------------------
// Hydration
// ---------------------------------------------------------------------------

// hydrateDraft rebuilds the draft's option tree from a persisted snapshot.
// Flat charge rows are regrouped into pairs per leg and per option. Cargo
// figures are session inputs, not persisted per leg, so they start zero.
func hydrateDraft(d *domain.Draft, snap *store.Snapshot, log *slog.Logger) {
	d.Options = nil
	d.SelectedOptionID = ""

	for _, rec := range snap.Options {
		o := hydrateOption(rec)

		legs := legsFor(snap, rec.ID)
		for _, lr := range legs {
			leg := hydrateLeg(lr)
			leg.Charges = pairing.Group(chargeLinesFor(snap, rec.ID, lr.ID), log)
			o.Legs = append(o.Legs, leg)
		}
		o.CombinedCharges = pairing.Group(chargeLinesFor(snap, rec.ID, ""), log)

		d.Options = append(d.Options, o)
		if rec.IsSelected {
			d.SelectedOptionID = o.ID
		}
	}

	// A snapshot with no selection marker still needs a current option.
	if d.SelectedOptionID == "" && len(d.Options) > 0 {
		d.SelectedOptionID = d.Options[0].ID
	}
	for _, o := range d.Options {
		o.Selected = o.ID == d.SelectedOptionID
	}
}

func hydrateOption(rec store.OptionRecord) *domain.Option {
	o := &domain.Option{
		ID:          rec.ID,
		Name:        rec.OptionName,
		CarrierID:   rec.CarrierID,
		CarrierName: rec.CarrierName,
		ServiceType: rec.ServiceType,
		Currency:    rec.Currency,
		MarginPct:   rec.MarginPercentage,
		Source:      domain.Source(rec.Source),
	}
	if rec.TransitTime > 0 {
		days := rec.TransitTime
		o.TransitDays = &days
	}
	if rec.ValidUntil != "" {
		if t, err := time.Parse("2006-01-02", rec.ValidUntil); err == nil {
			o.ValidUntil = t
		}
	}
	return o
}

func hydrateLeg(rec store.LegRecord) *domain.Leg {
	return &domain.Leg{
		ID:                  rec.ID,
		Mode:                domain.TransportMode(rec.TransportMode),
		Type:                domain.LegType(rec.LegType),
		Origin:              rec.OriginLocationName,
		Destination:         rec.DestinationLocationName,
		CarrierID:           rec.CarrierID,
		ServiceOnlyCategory: rec.ServiceOnlyCategory,
	}
}

func legsFor(snap *store.Snapshot, optionID string) []store.LegRecord {
	var out []store.LegRecord
	for _, l := range snap.Legs {
		if l.OptionID == optionID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func chargeLinesFor(snap *store.Snapshot, optionID, legID string) []domain.ChargeLine {
	var out []domain.ChargeLine
	for _, c := range snap.Charges {
		if c.OptionID != optionID || c.LegID != legID {
			continue
		}
		out = append(out, domain.ChargeLine{
			ID:         c.ID,
			OptionID:   c.OptionID,
			LegID:      c.LegID,
			CategoryID: c.CategoryID,
			BasisID:    c.BasisID,
			CurrencyID: c.CurrencyID,
			Unit:       c.Unit,
			Quantity:   c.Quantity,
			Rate:       c.Rate,
			Amount:     c.Amount,
			Side:       domain.ChargeSide(c.Side),
			Note:       c.Note,
		})
	}
	return out
}
