// Package domain defines the in-memory draft model for quote composition:
// options, legs, charge pairs, and the tombstone bookkeeping that
// reconciliation relies on.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeSide marks a monetary charge as cost (buy) or revenue (sell).
type ChargeSide string

const (
	SideBuy  ChargeSide = "buy"
	SideSell ChargeSide = "sell"
)

// TransportMode identifies how a leg moves freight.
type TransportMode string

const (
	ModeOcean   TransportMode = "ocean"
	ModeAir     TransportMode = "air"
	ModeRoad    TransportMode = "road"
	ModeRail    TransportMode = "rail"
	ModeService TransportMode = "service"
)

// LegType discriminates physical transport legs from service-only legs
// (customs clearance, documentation, etc.).
type LegType string

const (
	LegTransport LegType = "transport"
	LegService   LegType = "service"
)

// Source records how an option came to exist.
type Source string

const (
	SourceManual Source = "manual"
	SourceAI     Source = "ai_generated"
)

// ChargeLine is one persisted buy- or sell-side monetary entry. Amount is
// always Quantity × Rate, recomputed on every edit rather than trusted from
// stale state.
type ChargeLine struct {
	ID         string // empty until first persisted
	OptionID   string
	LegID      string // empty for option-level "combined" charges
	CategoryID string
	BasisID    string
	CurrencyID string
	Unit       string
	Quantity   decimal.Decimal
	Rate       decimal.Decimal
	Amount     decimal.Decimal
	Side       ChargeSide
	Note       string
}

// ChargeSideAmount is one populated side of a ChargePair. Each side carries
// its own persisted id so buy and sell can be created, updated, or deleted
// independently even though they are edited together.
type ChargeSideAmount struct {
	Quantity   decimal.Decimal
	Rate       decimal.Decimal
	Amount     decimal.Decimal
	DBChargeID string // empty until first persisted
}

// ChargePair groups at most one buy and one sell ChargeLine sharing
// (leg, category, basis, note). A pair with only one side populated is valid
// and must round-trip without fabricating a zero-value counterpart.
// Currency, category, basis, and unit are shared across both sides.
type ChargePair struct {
	ID         string // client-side id, always set
	CategoryID string
	BasisID    string
	CurrencyID string
	Unit       string
	Note       string
	Buy        *ChargeSideAmount
	Sell       *ChargeSideAmount
}

// Empty reports whether neither side of the pair is populated. Empty pairs
// are skipped entirely on save; no placeholder zero-charge is created.
func (p *ChargePair) Empty() bool {
	return p.Buy == nil && p.Sell == nil
}

// Leg is one movement or service segment within an option. Sort order is the
// slice position within the owning option.
type Leg struct {
	ID                  string // canonical id, or a local- placeholder
	Mode                TransportMode
	Type                LegType
	Origin              string
	Destination         string
	CarrierID           string // empty when no carrier is resolved
	CarrierName         string
	ServiceOnlyCategory string // required when Type == LegService
	ActualWeightKg      decimal.Decimal
	VolumeM3            decimal.Decimal
	Charges             []*ChargePair
}

// Totals are the computed aggregates for one option.
type Totals struct {
	TotalBuy     decimal.Decimal
	TotalSell    decimal.Decimal
	MarginAmount decimal.Decimal
	MarginPct    decimal.Decimal
}

// Option is one complete priced proposal for a shipment within a quote
// version.
type Option struct {
	ID          string // canonical id, or a local- placeholder
	Name        string
	CarrierID   string
	CarrierName string
	ServiceType string
	TransitDays *int // nil when unknown
	Reliability float64
	ValidUntil  time.Time
	Currency    string
	MarginPct   decimal.Decimal
	Source      Source
	Selected    bool

	Legs            []*Leg
	CombinedCharges []*ChargePair

	Totals Totals
}

// Leg returns the leg with the given id, if present.
func (o *Option) Leg(id string) (*Leg, bool) {
	for _, l := range o.Legs {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Draft is the full in-memory editable state of one quote being composed.
// It is exclusively owned by a single authoring session.
type Draft struct {
	TenantID         string
	QuoteID          string // empty until first save
	VersionID        string
	SelectedOptionID string
	Options          []*Option

	// Tombstones accumulate deletion intent for persisted rows removed since
	// the draft was loaded. They are cleared only after a confirmed save and
	// never contain an id that is also live in the draft.
	DeletedLegIDs    map[string]struct{}
	DeletedChargeIDs map[string]struct{}
}

// NewDraft creates an empty draft for the given tenant and quote version.
func NewDraft(tenantID, quoteID, versionID string) *Draft {
	return &Draft{
		TenantID:         tenantID,
		QuoteID:          quoteID,
		VersionID:        versionID,
		DeletedLegIDs:    make(map[string]struct{}),
		DeletedChargeIDs: make(map[string]struct{}),
	}
}

// Option returns the option with the given id, if present.
func (d *Draft) Option(id string) (*Option, bool) {
	for _, o := range d.Options {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// SelectedOption returns the option marked current for save purposes.
func (d *Draft) SelectedOption() (*Option, bool) {
	return d.Option(d.SelectedOptionID)
}

// TombstoneLeg records deletion intent for a persisted leg id. Placeholder
// ids were never persisted, so there is nothing to delete for them.
func (d *Draft) TombstoneLeg(id string) {
	if id == "" || IsLocalID(id) {
		return
	}
	d.DeletedLegIDs[id] = struct{}{}
}

// TombstoneCharge records deletion intent for a persisted charge id.
func (d *Draft) TombstoneCharge(id string) {
	if id == "" || IsLocalID(id) {
		return
	}
	d.DeletedChargeIDs[id] = struct{}{}
}

// ClearTombstones resets the deletion intent sets after a confirmed save.
func (d *Draft) ClearTombstones() {
	d.DeletedLegIDs = make(map[string]struct{})
	d.DeletedChargeIDs = make(map[string]struct{})
}
