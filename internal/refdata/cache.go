// Package refdata provides a read-only cache of quotation lookup tables
// (charge categories, bases, currencies, charge sides, transport modes,
// carriers). The cache is immutable after load and may be shared across
// drafts without copying.
package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"freightq/internal/util"
)

// Entry is one row of a lookup table.
type Entry struct {
	ID   string
	Code string
	Name string
}

// Table names the lookup tables the engine resolves against.
type Table string

const (
	TableCategories Table = "charge_categories"
	TableBases      Table = "charge_bases"
	TableCurrencies Table = "currencies"
	TableSides      Table = "charge_sides"
	TableModes      Table = "transport_modes"
	TableCarriers   Table = "carriers"
)

// tables is the load order; deterministic so partial-load errors read stably.
var tables = []Table{
	TableCategories, TableBases, TableCurrencies,
	TableSides, TableModes, TableCarriers,
}

// weightBasisCodes are the charge bases whose quantity is the shipment's
// chargeable weight and must be repriced when a leg's mode changes.
var weightBasisCodes = map[string]struct{}{
	"per_kg":            {},
	"w_m":               {},
	"chargeable_weight": {},
}

// Loader supplies the raw lookup rows, table by table. Implementations talk
// to whatever backend holds reference data; the cache only resolves through
// the result.
type Loader interface {
	LoadTable(ctx context.Context, table Table) ([]Entry, error)
}

// PartialLoadError reports the tables that failed to load. The cache remains
// usable for every table that did load.
type PartialLoadError struct {
	Failed map[Table]error
}

func (e *PartialLoadError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for t := range e.Failed {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return fmt.Sprintf("refdata: %d table(s) failed to load: %s",
		len(e.Failed), strings.Join(names, ", "))
}

// Cache holds the loaded lookup tables. It is never mutated after Load
// returns, so concurrent reads need no locking.
type Cache struct {
	entries  map[Table][]Entry
	idToCode map[Table]map[string]string
	codeToID map[Table]map[string]string
}

// Load fetches every lookup table through the loader, retrying each table up
// to maxAttempts times with exponential backoff from baseDelay. Failures are
// additive: a failed table yields an empty table in the cache and an entry in
// the returned *PartialLoadError, and loading continues. The returned cache
// is always usable.
func Load(ctx context.Context, loader Loader, maxAttempts int, baseDelay time.Duration, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		entries:  make(map[Table][]Entry, len(tables)),
		idToCode: make(map[Table]map[string]string, len(tables)),
		codeToID: make(map[Table]map[string]string, len(tables)),
	}
	failed := make(map[Table]error)

	for _, table := range tables {
		var rows []Entry
		err := util.Retry(ctx, maxAttempts, baseDelay, func() error {
			var lerr error
			rows, lerr = loader.LoadTable(ctx, table)
			return lerr
		})
		if err != nil {
			log.Warn("reference table failed to load", "table", table, "error", err)
			failed[table] = err
			rows = nil
		}
		c.install(table, rows)
	}

	if len(failed) > 0 {
		return c, &PartialLoadError{Failed: failed}
	}
	return c, nil
}

func (c *Cache) install(table Table, rows []Entry) {
	c.entries[table] = rows
	byID := make(map[string]string, len(rows))
	byCode := make(map[string]string, len(rows))
	for _, e := range rows {
		byID[e.ID] = e.Code
		byCode[e.Code] = e.ID
	}
	c.idToCode[table] = byID
	c.codeToID[table] = byCode
}

// Entries returns a copy of the rows of one table.
func (c *Cache) Entries(table Table) []Entry {
	rows := c.entries[table]
	out := make([]Entry, len(rows))
	copy(out, rows)
	return out
}

// CodeByID resolves an id to its code within one table.
func (c *Cache) CodeByID(table Table, id string) (string, bool) {
	code, ok := c.idToCode[table][id]
	return code, ok
}

// IDByCode resolves a code to its id within one table.
func (c *Cache) IDByCode(table Table, code string) (string, bool) {
	id, ok := c.codeToID[table][code]
	return id, ok
}

// IsWeightBasis reports whether the given basis id resolves to a
// chargeable-weight basis.
func (c *Cache) IsWeightBasis(basisID string) bool {
	code, ok := c.CodeByID(TableBases, basisID)
	if !ok {
		return false
	}
	_, weight := weightBasisCodes[code]
	return weight
}
