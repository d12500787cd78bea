package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freightq/internal/audit"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ QuoteStore = (*SQLiteStore)(nil)
var _ audit.Sink = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	reference  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'draft'
);

CREATE TABLE IF NOT EXISTS cargo_configurations (
	id             TEXT PRIMARY KEY,
	quote_id       TEXT NOT NULL REFERENCES quotes(id),
	container_type TEXT NOT NULL DEFAULT '',
	quantity       INTEGER NOT NULL DEFAULT 0,
	weight_kg      TEXT NOT NULL DEFAULT '0',
	volume_m3      TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS quote_options (
	id                   TEXT PRIMARY KEY,
	quotation_version_id TEXT NOT NULL,
	option_name          TEXT NOT NULL,
	carrier_id           TEXT,
	carrier_name         TEXT NOT NULL DEFAULT '',
	service_type         TEXT NOT NULL DEFAULT '',
	transit_time         INTEGER NOT NULL DEFAULT 0,
	valid_until          TEXT NOT NULL DEFAULT '',
	currency             TEXT NOT NULL DEFAULT '',
	margin_percentage    TEXT NOT NULL DEFAULT '0',
	total_buy            TEXT NOT NULL DEFAULT '0',
	total_sell           TEXT NOT NULL DEFAULT '0',
	margin_amount        TEXT NOT NULL DEFAULT '0',
	total_amount         TEXT NOT NULL DEFAULT '0',
	is_selected          INTEGER NOT NULL DEFAULT 0,
	source               TEXT NOT NULL DEFAULT 'manual',
	UNIQUE (quotation_version_id, option_name)
);

CREATE TABLE IF NOT EXISTS quote_legs (
	id                        TEXT PRIMARY KEY,
	option_id                 TEXT NOT NULL REFERENCES quote_options(id),
	transport_mode            TEXT NOT NULL DEFAULT '',
	leg_type                  TEXT NOT NULL DEFAULT 'transport',
	origin_location_name      TEXT NOT NULL DEFAULT '',
	destination_location_name TEXT NOT NULL DEFAULT '',
	carrier_id                TEXT,
	service_only_category     TEXT NOT NULL DEFAULT '',
	sort_order                INTEGER NOT NULL,
	UNIQUE (option_id, sort_order)
);

CREATE TABLE IF NOT EXISTS quote_charges (
	id          TEXT PRIMARY KEY,
	option_id   TEXT NOT NULL REFERENCES quote_options(id),
	leg_id      TEXT NOT NULL DEFAULT '',
	category_id TEXT NOT NULL DEFAULT '',
	basis_id    TEXT NOT NULL DEFAULT '',
	currency_id TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL DEFAULT '',
	quantity    TEXT NOT NULL DEFAULT '0',
	rate        TEXT NOT NULL DEFAULT '0',
	amount      TEXT NOT NULL DEFAULT '0',
	side        TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	UNIQUE (option_id, leg_id, category_id, basis_id, side, note)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        TEXT NOT NULL,
	action    TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	quote_id  TEXT NOT NULL DEFAULT '',
	option_id TEXT NOT NULL DEFAULT '',
	detail    TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore implements QuoteStore and audit.Sink backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures the
// schema exists, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConflict recognises SQLite unique constraint violations.
func isConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanDec parses a stored TEXT decimal; empty and NULL read as zero.
func scanDec(s sql.NullString) decimal.Decimal {
	if !s.Valid || s.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// LoadSnapshot returns the persisted state of one quotation version: every
// option with all of its legs and charges. A version with no rows yields an
// empty snapshot, not an error.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, versionID string) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quotation_version_id, option_name, COALESCE(carrier_id, ''),
		       carrier_name, service_type, transit_time, valid_until, currency,
		       margin_percentage, total_buy, total_sell, margin_amount,
		       total_amount, is_selected, source
		FROM quote_options WHERE quotation_version_id = ?
		ORDER BY option_name`, versionID)
	if err != nil {
		return nil, fmt.Errorf("loading options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r OptionRecord
		var marginPct, buy, sell, margin, total sql.NullString
		var selected int
		if err := rows.Scan(&r.ID, &r.QuotationVersionID, &r.OptionName, &r.CarrierID,
			&r.CarrierName, &r.ServiceType, &r.TransitTime, &r.ValidUntil, &r.Currency,
			&marginPct, &buy, &sell, &margin, &total, &selected, &r.Source); err != nil {
			return nil, fmt.Errorf("scanning option: %w", err)
		}
		r.MarginPercentage = scanDec(marginPct)
		r.TotalBuy = scanDec(buy)
		r.TotalSell = scanDec(sell)
		r.MarginAmount = scanDec(margin)
		r.TotalAmount = scanDec(total)
		r.IsSelected = selected != 0
		snap.Options = append(snap.Options, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	legRows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.option_id, l.transport_mode, l.leg_type,
		       l.origin_location_name, l.destination_location_name,
		       COALESCE(l.carrier_id, ''), l.service_only_category, l.sort_order
		FROM quote_legs l
		JOIN quote_options o ON o.id = l.option_id
		WHERE o.quotation_version_id = ?
		ORDER BY l.option_id, l.sort_order`, versionID)
	if err != nil {
		return nil, fmt.Errorf("loading legs: %w", err)
	}
	defer legRows.Close()
	for legRows.Next() {
		var r LegRecord
		if err := legRows.Scan(&r.ID, &r.OptionID, &r.TransportMode, &r.LegType,
			&r.OriginLocationName, &r.DestinationLocationName,
			&r.CarrierID, &r.ServiceOnlyCategory, &r.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning leg: %w", err)
		}
		snap.Legs = append(snap.Legs, r)
	}
	if err := legRows.Err(); err != nil {
		return nil, err
	}

	chargeRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.option_id, c.leg_id, c.category_id, c.basis_id,
		       c.currency_id, c.unit, c.quantity, c.rate, c.amount, c.side, c.note
		FROM quote_charges c
		JOIN quote_options o ON o.id = c.option_id
		WHERE o.quotation_version_id = ?
		ORDER BY c.option_id, c.leg_id, c.id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("loading charges: %w", err)
	}
	defer chargeRows.Close()
	for chargeRows.Next() {
		var r ChargeRecord
		var qty, rate, amount sql.NullString
		if err := chargeRows.Scan(&r.ID, &r.OptionID, &r.LegID, &r.CategoryID,
			&r.BasisID, &r.CurrencyID, &r.Unit, &qty, &rate, &amount,
			&r.Side, &r.Note); err != nil {
			return nil, fmt.Errorf("scanning charge: %w", err)
		}
		r.Quantity = scanDec(qty)
		r.Rate = scanDec(rate)
		r.Amount = scanDec(amount)
		snap.Charges = append(snap.Charges, r)
	}
	if err := chargeRows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

// ---------------------------------------------------------------------------
// Atomic save
// ---------------------------------------------------------------------------

// SaveQuote persists a whole quote (header, cargo configurations, and every
// option with nested legs and charges) in one transaction, minting canonical
// ids throughout, and returns the quote id.
func (s *SQLiteStore) SaveQuote(ctx context.Context, req *SaveRequest) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	quoteID := req.Quote.ID
	if quoteID == "" {
		quoteID = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quotes (id, tenant_id, reference, status) VALUES (?, ?, ?, ?)`,
		quoteID, req.Quote.TenantID, req.Quote.Reference, req.Quote.Status); err != nil {
		return "", fmt.Errorf("inserting quote: %w", err)
	}

	for _, cc := range req.CargoConfigurations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cargo_configurations (id, quote_id, container_type, quantity, weight_kg, volume_m3)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), quoteID, cc.ContainerType, cc.Quantity,
			cc.WeightKg.String(), cc.VolumeM3.String()); err != nil {
			return "", fmt.Errorf("inserting cargo configuration: %w", err)
		}
	}

	for _, so := range req.Options {
		opt := so.Option
		optionID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, insertOptionSQL,
			optionID, opt.QuotationVersionID, opt.OptionName, nullable(opt.CarrierID),
			opt.CarrierName, opt.ServiceType, opt.TransitTime, opt.ValidUntil,
			opt.Currency, opt.MarginPercentage.String(), opt.TotalBuy.String(),
			opt.TotalSell.String(), opt.MarginAmount.String(), opt.TotalAmount.String(),
			boolInt(opt.IsSelected), opt.Source); err != nil {
			return "", fmt.Errorf("inserting option %q: %w", opt.OptionName, err)
		}

		for _, sl := range so.Legs {
			leg := sl.Leg
			legID := uuid.NewString()
			if _, err := tx.ExecContext(ctx, insertLegSQL,
				legID, optionID, leg.TransportMode, leg.LegType,
				leg.OriginLocationName, leg.DestinationLocationName,
				nullable(leg.CarrierID), leg.ServiceOnlyCategory, leg.SortOrder); err != nil {
				return "", fmt.Errorf("inserting leg %d: %w", leg.SortOrder, err)
			}
			for _, c := range sl.Charges {
				if err := insertChargeTx(ctx, tx, c, optionID, legID); err != nil {
					return "", err
				}
			}
		}
		for _, c := range so.CombinedCharges {
			if err := insertChargeTx(ctx, tx, c, optionID, ""); err != nil {
				return "", err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return quoteID, nil
}

func insertChargeTx(ctx context.Context, tx *sql.Tx, c ChargeRecord, optionID, legID string) error {
	if _, err := tx.ExecContext(ctx, insertChargeSQL,
		uuid.NewString(), optionID, legID, c.CategoryID, c.BasisID, c.CurrencyID,
		c.Unit, c.Quantity.String(), c.Rate.String(), c.Amount.String(),
		c.Side, c.Note); err != nil {
		return fmt.Errorf("inserting charge: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

const insertOptionSQL = `
INSERT INTO quote_options (
	id, quotation_version_id, option_name, carrier_id, carrier_name,
	service_type, transit_time, valid_until, currency, margin_percentage,
	total_buy, total_sell, margin_amount, total_amount, is_selected, source
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateOption inserts an option row. The record's id is honoured when set
// (idempotent retries of a partially applied plan); otherwise a canonical id
// is minted.
func (s *SQLiteStore) CreateOption(ctx context.Context, rec *OptionRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, insertOptionSQL,
		id, rec.QuotationVersionID, rec.OptionName, nullable(rec.CarrierID),
		rec.CarrierName, rec.ServiceType, rec.TransitTime, rec.ValidUntil,
		rec.Currency, rec.MarginPercentage.String(), rec.TotalBuy.String(),
		rec.TotalSell.String(), rec.MarginAmount.String(), rec.TotalAmount.String(),
		boolInt(rec.IsSelected), rec.Source)
	if isConflict(err) {
		return "", ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("creating option: %w", err)
	}
	return id, nil
}

// UpdateOption overwrites the option row's content.
func (s *SQLiteStore) UpdateOption(ctx context.Context, rec *OptionRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quote_options SET
			option_name = ?, carrier_id = ?, carrier_name = ?, service_type = ?,
			transit_time = ?, valid_until = ?, currency = ?, margin_percentage = ?,
			total_buy = ?, total_sell = ?, margin_amount = ?, total_amount = ?,
			is_selected = ?, source = ?
		WHERE id = ?`,
		rec.OptionName, nullable(rec.CarrierID), rec.CarrierName, rec.ServiceType,
		rec.TransitTime, rec.ValidUntil, rec.Currency, rec.MarginPercentage.String(),
		rec.TotalBuy.String(), rec.TotalSell.String(), rec.MarginAmount.String(),
		rec.TotalAmount.String(), boolInt(rec.IsSelected), rec.Source, rec.ID)
	if isConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating option: %w", err)
	}
	return requireRow(res)
}

// DeleteOption removes an option row. Deleting an absent row is a no-op so
// retried plans stay idempotent.
func (s *SQLiteStore) DeleteOption(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM quote_options WHERE id = ?`, id)
	return err
}

// FindOptionByName re-queries an option by its natural key.
func (s *SQLiteStore) FindOptionByName(ctx context.Context, versionID, name string) (*OptionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, quotation_version_id, option_name, COALESCE(carrier_id, ''),
		       carrier_name, service_type, transit_time, valid_until, currency,
		       margin_percentage, total_buy, total_sell, margin_amount,
		       total_amount, is_selected, source
		FROM quote_options
		WHERE quotation_version_id = ? AND option_name = ?`, versionID, name)

	var r OptionRecord
	var marginPct, buy, sell, margin, total sql.NullString
	var selected int
	err := row.Scan(&r.ID, &r.QuotationVersionID, &r.OptionName, &r.CarrierID,
		&r.CarrierName, &r.ServiceType, &r.TransitTime, &r.ValidUntil, &r.Currency,
		&marginPct, &buy, &sell, &margin, &total, &selected, &r.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.MarginPercentage = scanDec(marginPct)
	r.TotalBuy = scanDec(buy)
	r.TotalSell = scanDec(sell)
	r.MarginAmount = scanDec(margin)
	r.TotalAmount = scanDec(total)
	r.IsSelected = selected != 0
	return &r, nil
}

// UpdateOptionTotals persists the option aggregates.
func (s *SQLiteStore) UpdateOptionTotals(ctx context.Context, optionID string, totals TotalsRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quote_options
		SET total_buy = ?, total_sell = ?, margin_amount = ?, total_amount = ?
		WHERE id = ?`,
		totals.TotalBuy.String(), totals.TotalSell.String(),
		totals.MarginAmount.String(), totals.TotalAmount.String(), optionID)
	if err != nil {
		return fmt.Errorf("updating option totals: %w", err)
	}
	return requireRow(res)
}

// SumCharges aggregates persisted buy and sell amounts for one option.
func (s *SQLiteStore) SumCharges(ctx context.Context, optionID string) (decimal.Decimal, decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT side, amount FROM quote_charges WHERE option_id = ?`, optionID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("summing charges: %w", err)
	}
	defer rows.Close()

	buy, sell := decimal.Zero, decimal.Zero
	for rows.Next() {
		var side string
		var amount sql.NullString
		if err := rows.Scan(&side, &amount); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		switch side {
		case "buy":
			buy = buy.Add(scanDec(amount))
		case "sell":
			sell = sell.Add(scanDec(amount))
		}
	}
	return buy, sell, rows.Err()
}

// ---------------------------------------------------------------------------
// Legs
// ---------------------------------------------------------------------------

const insertLegSQL = `
INSERT INTO quote_legs (
	id, option_id, transport_mode, leg_type, origin_location_name,
	destination_location_name, carrier_id, service_only_category, sort_order
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateLeg inserts a leg row, honouring a preset id for idempotent retries.
func (s *SQLiteStore) CreateLeg(ctx context.Context, rec *LegRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, insertLegSQL,
		id, rec.OptionID, rec.TransportMode, rec.LegType,
		rec.OriginLocationName, rec.DestinationLocationName,
		nullable(rec.CarrierID), rec.ServiceOnlyCategory, rec.SortOrder)
	if isConflict(err) {
		return "", ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("creating leg: %w", err)
	}
	return id, nil
}

// UpdateLeg overwrites the leg row's content.
func (s *SQLiteStore) UpdateLeg(ctx context.Context, rec *LegRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quote_legs SET
			transport_mode = ?, leg_type = ?, origin_location_name = ?,
			destination_location_name = ?, carrier_id = ?,
			service_only_category = ?, sort_order = ?
		WHERE id = ?`,
		rec.TransportMode, rec.LegType, rec.OriginLocationName,
		rec.DestinationLocationName, nullable(rec.CarrierID),
		rec.ServiceOnlyCategory, rec.SortOrder, rec.ID)
	if isConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating leg: %w", err)
	}
	return requireRow(res)
}

// DeleteLeg removes a leg row; absent rows are a no-op.
func (s *SQLiteStore) DeleteLeg(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM quote_legs WHERE id = ?`, id)
	return err
}

// FindLegByPosition re-queries a leg by its natural key.
func (s *SQLiteStore) FindLegByPosition(ctx context.Context, optionID string, sortOrder int) (*LegRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, option_id, transport_mode, leg_type, origin_location_name,
		       destination_location_name, COALESCE(carrier_id, ''),
		       service_only_category, sort_order
		FROM quote_legs WHERE option_id = ? AND sort_order = ?`, optionID, sortOrder)

	var r LegRecord
	err := row.Scan(&r.ID, &r.OptionID, &r.TransportMode, &r.LegType,
		&r.OriginLocationName, &r.DestinationLocationName,
		&r.CarrierID, &r.ServiceOnlyCategory, &r.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// Charges
// ---------------------------------------------------------------------------

const insertChargeSQL = `
INSERT INTO quote_charges (
	id, option_id, leg_id, category_id, basis_id, currency_id, unit,
	quantity, rate, amount, side, note
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateCharge inserts a charge row, honouring a preset id for idempotent
// retries.
func (s *SQLiteStore) CreateCharge(ctx context.Context, rec *ChargeRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, insertChargeSQL,
		id, rec.OptionID, rec.LegID, rec.CategoryID, rec.BasisID, rec.CurrencyID,
		rec.Unit, rec.Quantity.String(), rec.Rate.String(), rec.Amount.String(),
		rec.Side, rec.Note)
	if isConflict(err) {
		return "", ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("creating charge: %w", err)
	}
	return id, nil
}

// UpdateCharge overwrites the charge row's content.
func (s *SQLiteStore) UpdateCharge(ctx context.Context, rec *ChargeRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quote_charges SET
			leg_id = ?, category_id = ?, basis_id = ?, currency_id = ?, unit = ?,
			quantity = ?, rate = ?, amount = ?, side = ?, note = ?
		WHERE id = ?`,
		rec.LegID, rec.CategoryID, rec.BasisID, rec.CurrencyID, rec.Unit,
		rec.Quantity.String(), rec.Rate.String(), rec.Amount.String(),
		rec.Side, rec.Note, rec.ID)
	if isConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating charge: %w", err)
	}
	return requireRow(res)
}

// DeleteCharge removes a charge row; absent rows are a no-op.
func (s *SQLiteStore) DeleteCharge(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM quote_charges WHERE id = ?`, id)
	return err
}

// FindChargeByKey re-queries a charge by its natural key.
func (s *SQLiteStore) FindChargeByKey(ctx context.Context, key ChargeKey) (*ChargeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, option_id, leg_id, category_id, basis_id, currency_id, unit,
		       quantity, rate, amount, side, note
		FROM quote_charges
		WHERE option_id = ? AND leg_id = ? AND category_id = ? AND basis_id = ?
		  AND side = ? AND note = ?`,
		key.OptionID, key.LegID, key.CategoryID, key.BasisID, key.Side, key.Note)

	var r ChargeRecord
	var qty, rate, amount sql.NullString
	err := row.Scan(&r.ID, &r.OptionID, &r.LegID, &r.CategoryID, &r.BasisID,
		&r.CurrencyID, &r.Unit, &qty, &rate, &amount, &r.Side, &r.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Quantity = scanDec(qty)
	r.Rate = scanDec(rate)
	r.Amount = scanDec(amount)
	return &r, nil
}

// ---------------------------------------------------------------------------
// Audit sink
// ---------------------------------------------------------------------------

// Record implements audit.Sink against the audit_log table.
func (s *SQLiteStore) Record(ctx context.Context, e audit.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (at, action, tenant_id, quote_id, option_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.Format("2006-01-02T15:04:05Z07:00"),
		e.Action, e.TenantID, e.QuoteID, e.OptionID, e.Detail)
	return err
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
