// Package store defines the storage collaborator interface and persisted
// record shapes for quotes, options, legs, and charges, plus the SQLite
// implementation.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrConflict is returned when a create collides with an existing row on a
// natural key. Callers recover by re-querying and adopting the winner.
var ErrConflict = errors.New("store: unique constraint conflict")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ---------------------------------------------------------------------------
// Persisted record shapes
// ---------------------------------------------------------------------------

// OptionRecord is the persisted shape of one quote option.
type OptionRecord struct {
	ID                 string
	QuotationVersionID string
	OptionName         string
	CarrierID          string
	CarrierName        string
	ServiceType        string
	TransitTime        int // days; 0 means unknown
	ValidUntil         string // ISO date, empty when unset
	Currency           string
	MarginPercentage   decimal.Decimal
	TotalBuy           decimal.Decimal
	TotalSell          decimal.Decimal
	MarginAmount       decimal.Decimal
	TotalAmount        decimal.Decimal
	IsSelected         bool
	Source             string
}

// Equal reports whether two option records carry the same content.
// decimal fields compare by value, so == is not usable here.
func (r OptionRecord) Equal(o OptionRecord) bool {
	return r.ID == o.ID &&
		r.QuotationVersionID == o.QuotationVersionID &&
		r.OptionName == o.OptionName &&
		r.CarrierID == o.CarrierID &&
		r.CarrierName == o.CarrierName &&
		r.ServiceType == o.ServiceType &&
		r.TransitTime == o.TransitTime &&
		r.ValidUntil == o.ValidUntil &&
		r.Currency == o.Currency &&
		r.MarginPercentage.Equal(o.MarginPercentage) &&
		r.TotalBuy.Equal(o.TotalBuy) &&
		r.TotalSell.Equal(o.TotalSell) &&
		r.MarginAmount.Equal(o.MarginAmount) &&
		r.TotalAmount.Equal(o.TotalAmount) &&
		r.IsSelected == o.IsSelected &&
		r.Source == o.Source
}

// LegRecord is the persisted shape of one leg. CarrierID is empty for legs
// without a resolved carrier (stored as NULL).
type LegRecord struct {
	ID                      string
	OptionID                string
	TransportMode           string
	LegType                 string
	OriginLocationName      string
	DestinationLocationName string
	CarrierID               string
	ServiceOnlyCategory     string
	SortOrder               int
}

// ChargeRecord is the persisted shape of one buy- or sell-side charge line.
// LegID is empty for option-level combined charges; it is stored as an empty
// string rather than NULL so the natural-key unique index covers combined
// charges too.
type ChargeRecord struct {
	ID         string
	OptionID   string
	LegID      string
	CategoryID string
	BasisID    string
	CurrencyID string
	Unit       string
	Quantity   decimal.Decimal
	Rate       decimal.Decimal
	Amount     decimal.Decimal
	Side       string
	Note       string
}

// Equal reports whether two charge records carry the same content.
func (r ChargeRecord) Equal(o ChargeRecord) bool {
	return r.ID == o.ID &&
		r.OptionID == o.OptionID &&
		r.LegID == o.LegID &&
		r.CategoryID == o.CategoryID &&
		r.BasisID == o.BasisID &&
		r.CurrencyID == o.CurrencyID &&
		r.Unit == o.Unit &&
		r.Quantity.Equal(o.Quantity) &&
		r.Rate.Equal(o.Rate) &&
		r.Amount.Equal(o.Amount) &&
		r.Side == o.Side &&
		r.Note == o.Note
}

// ChargeKey is the natural key a raced charge create is re-queried by.
type ChargeKey struct {
	OptionID   string
	LegID      string
	CategoryID string
	BasisID    string
	Side       string
	Note       string
}

// TotalsRecord carries the option-level aggregates persisted after charge
// writes.
type TotalsRecord struct {
	TotalBuy     decimal.Decimal
	TotalSell    decimal.Decimal
	MarginAmount decimal.Decimal
	TotalAmount  decimal.Decimal
}

// Snapshot is the persisted state of one quotation version: every option with
// all of its legs and charges.
type Snapshot struct {
	Options []OptionRecord
	Legs    []LegRecord
	Charges []ChargeRecord
}

// Option returns the snapshot's record for the given option id.
func (s *Snapshot) Option(id string) (OptionRecord, bool) {
	for _, o := range s.Options {
		if o.ID == id {
			return o, true
		}
	}
	return OptionRecord{}, false
}

// Leg returns the snapshot's record for the given leg id.
func (s *Snapshot) Leg(id string) (LegRecord, bool) {
	for _, l := range s.Legs {
		if l.ID == id {
			return l, true
		}
	}
	return LegRecord{}, false
}

// Charge returns the snapshot's record for the given charge id.
func (s *Snapshot) Charge(id string) (ChargeRecord, bool) {
	for _, c := range s.Charges {
		if c.ID == id {
			return c, true
		}
	}
	return ChargeRecord{}, false
}

// ---------------------------------------------------------------------------
// Atomic save request
// ---------------------------------------------------------------------------

// QuoteRecord is the persisted header row of a quote.
type QuoteRecord struct {
	ID        string
	TenantID  string
	Reference string
	Status    string
}

// CargoConfiguration is one cargo line on the quote header.
type CargoConfiguration struct {
	ContainerType string
	Quantity      int
	WeightKg      decimal.Decimal
	VolumeM3      decimal.Decimal
}

// SaveLeg is one leg with its charges, as embedded in a SaveRequest.
type SaveLeg struct {
	Leg     LegRecord
	Charges []ChargeRecord
}

// SaveOption is one option with its legs and combined charges.
type SaveOption struct {
	Option          OptionRecord
	Legs            []SaveLeg
	CombinedCharges []ChargeRecord
}

// SaveRequest is the atomic save entry point: one call persisting the quote
// header, cargo configurations, and every option (with nested legs and
// charges) in a single transaction.
type SaveRequest struct {
	Quote               QuoteRecord
	CargoConfigurations []CargoConfiguration
	Options             []SaveOption
}

// ---------------------------------------------------------------------------
// Storage collaborator interface
// ---------------------------------------------------------------------------

// QuoteStore is the storage collaborator the reconciliation engine executes
// its mutation plan against. Each method is individually atomic; the engine
// does not assume transactionality across calls, except for SaveQuote which
// is a single transaction.
type QuoteStore interface {
	// LoadSnapshot returns the persisted state of a quotation version.
	LoadSnapshot(ctx context.Context, versionID string) (*Snapshot, error)

	// SaveQuote persists a whole new quote atomically and returns the
	// canonical quote id.
	SaveQuote(ctx context.Context, req *SaveRequest) (string, error)

	// CreateOption inserts an option and returns its canonical id. A natural
	// key collision returns ErrConflict.
	CreateOption(ctx context.Context, rec *OptionRecord) (string, error)

	// UpdateOption overwrites an existing option's content.
	UpdateOption(ctx context.Context, rec *OptionRecord) error

	// DeleteOption removes an option row.
	DeleteOption(ctx context.Context, id string) error

	// FindOptionByName re-queries an option by its natural key.
	FindOptionByName(ctx context.Context, versionID, name string) (*OptionRecord, error)

	// UpdateOptionTotals persists the option-level aggregates.
	UpdateOptionTotals(ctx context.Context, optionID string, totals TotalsRecord) error

	// SumCharges aggregates buy and sell amounts across an option's charges,
	// independently of any in-memory state.
	SumCharges(ctx context.Context, optionID string) (buy, sell decimal.Decimal, err error)

	// CreateLeg inserts a leg and returns its canonical id. A natural key
	// collision returns ErrConflict.
	CreateLeg(ctx context.Context, rec *LegRecord) (string, error)

	// UpdateLeg overwrites an existing leg's content.
	UpdateLeg(ctx context.Context, rec *LegRecord) error

	// DeleteLeg removes a leg row.
	DeleteLeg(ctx context.Context, id string) error

	// FindLegByPosition re-queries a leg by its natural key.
	FindLegByPosition(ctx context.Context, optionID string, sortOrder int) (*LegRecord, error)

	// CreateCharge inserts a charge line and returns its canonical id. A
	// natural key collision returns ErrConflict.
	CreateCharge(ctx context.Context, rec *ChargeRecord) (string, error)

	// UpdateCharge overwrites an existing charge line's content.
	UpdateCharge(ctx context.Context, rec *ChargeRecord) error

	// DeleteCharge removes a charge row.
	DeleteCharge(ctx context.Context, id string) error

	// FindChargeByKey re-queries a charge by its natural key.
	FindChargeByKey(ctx context.Context, key ChargeKey) (*ChargeRecord, error)
}
