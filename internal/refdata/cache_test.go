package refdata

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeLoader serves canned rows and can be told to fail specific tables,
// optionally recovering after a number of attempts.
type fakeLoader struct {
	rows     map[Table][]Entry
	failures map[Table]int // attempts that fail before success; -1 = always
	attempts map[Table]int
}

func (f *fakeLoader) LoadTable(_ context.Context, table Table) ([]Entry, error) {
	if f.attempts == nil {
		f.attempts = make(map[Table]int)
	}
	f.attempts[table]++
	remaining := f.failures[table]
	if remaining == -1 || f.attempts[table] <= remaining {
		return nil, errors.New("backend unavailable")
	}
	return f.rows[table], nil
}

func testRows() map[Table][]Entry {
	return map[Table][]Entry{
		TableCategories: {
			{ID: "cat-1", Code: "freight", Name: "Freight"},
			{ID: "cat-2", Code: "fuel", Name: "Fuel surcharge"},
		},
		TableBases: {
			{ID: "bas-1", Code: "per_container", Name: "Per container"},
			{ID: "bas-2", Code: "per_kg", Name: "Per kilogram"},
			{ID: "bas-3", Code: "flat", Name: "Flat"},
		},
		TableCurrencies: {
			{ID: "cur-usd", Code: "USD", Name: "US dollar"},
			{ID: "cur-eur", Code: "EUR", Name: "Euro"},
		},
		TableSides: {
			{ID: "side-b", Code: "buy", Name: "Buy"},
			{ID: "side-s", Code: "sell", Name: "Sell"},
		},
		TableModes: {
			{ID: "mode-o", Code: "ocean", Name: "Ocean"},
			{ID: "mode-a", Code: "air", Name: "Air"},
		},
		TableCarriers: {
			{ID: "car-1", Code: "MAEU", Name: "Maersk"},
		},
	}
}

func TestLoadResolvesBothDirections(t *testing.T) {
	cache, err := Load(context.Background(), &fakeLoader{rows: testRows()}, 3, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	code, ok := cache.CodeByID(TableCategories, "cat-2")
	if !ok || code != "fuel" {
		t.Errorf("CodeByID(cat-2) = %q, %v; want fuel, true", code, ok)
	}
	id, ok := cache.IDByCode(TableCurrencies, "EUR")
	if !ok || id != "cur-eur" {
		t.Errorf("IDByCode(EUR) = %q, %v; want cur-eur, true", id, ok)
	}
	if _, ok := cache.CodeByID(TableModes, "mode-x"); ok {
		t.Error("CodeByID(mode-x) unexpectedly found")
	}
	if got := len(cache.Entries(TableBases)); got != 3 {
		t.Errorf("Entries(bases) = %d rows, want 3", got)
	}
}

func TestLoadRetriesTransientFailures(t *testing.T) {
	loader := &fakeLoader{
		rows:     testRows(),
		failures: map[Table]int{TableCarriers: 2},
	}
	cache, err := Load(context.Background(), loader, 3, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Load returned error after retryable failures: %v", err)
	}
	if loader.attempts[TableCarriers] != 3 {
		t.Errorf("carriers attempts = %d, want 3", loader.attempts[TableCarriers])
	}
	if _, ok := cache.IDByCode(TableCarriers, "MAEU"); !ok {
		t.Error("carriers table missing after successful retry")
	}
}

func TestLoadPartialFailureStaysUsable(t *testing.T) {
	loader := &fakeLoader{
		rows:     testRows(),
		failures: map[Table]int{TableCarriers: -1, TableModes: -1},
	}
	cache, err := Load(context.Background(), loader, 3, time.Millisecond, nil)
	if err == nil {
		t.Fatal("Load returned nil error, want PartialLoadError")
	}

	var ple *PartialLoadError
	if !errors.As(err, &ple) {
		t.Fatalf("Load error type = %T, want *PartialLoadError", err)
	}
	if len(ple.Failed) != 2 {
		t.Errorf("failed tables = %d, want 2", len(ple.Failed))
	}

	// Unrelated tables still work; the engine must stay usable.
	if _, ok := cache.IDByCode(TableCategories, "freight"); !ok {
		t.Error("categories lookup broken after unrelated failure")
	}
	if got := len(cache.Entries(TableCarriers)); got != 0 {
		t.Errorf("failed carriers table has %d rows, want 0", got)
	}
}

func TestIsWeightBasis(t *testing.T) {
	cache, err := Load(context.Background(), &fakeLoader{rows: testRows()}, 1, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cache.IsWeightBasis("bas-2") {
		t.Error("per_kg basis should be a weight basis")
	}
	if cache.IsWeightBasis("bas-1") {
		t.Error("per_container basis should not be a weight basis")
	}
	if cache.IsWeightBasis("unknown") {
		t.Error("unknown basis should not be a weight basis")
	}
}
