package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteDDL creates the schema. Statements are idempotent so opening an
// existing file is a no-op.
var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
		id_cot         TEXT PRIMARY KEY,
		url            TEXT NOT NULL DEFAULT '',
		margin         REAL,
		state          TEXT NOT NULL DEFAULT 'RUNNING',
		provider_id    TEXT NOT NULL DEFAULT '',
		run_id         TEXT NOT NULL DEFAULT '',
		started_at     TIMESTAMP NOT NULL,
		ended_at       TIMESTAMP,
		last_ok_at     TIMESTAMP,
		last_http_code INTEGER NOT NULL DEFAULT 0,
		error_streak   INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id_cot      TEXT NOT NULL REFERENCES auctions(id_cot) ON DELETE CASCADE,
		id_renglon  TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		quantity    REAL,
		ref_unit    REAL,
		budget      REAL,
		PRIMARY KEY (id_cot, id_renglon)
	)`,
	`CREATE TABLE IF NOT EXISTS line_item_states (
		id_cot             TEXT NOT NULL,
		id_renglon         TEXT NOT NULL,
		best_text          TEXT NOT NULL DEFAULT '',
		best               REAL,
		min_to_beat_text   TEXT NOT NULL DEFAULT '',
		min_to_beat        REAL,
		budget_text        TEXT NOT NULL DEFAULT '',
		budget             REAL,
		message            TEXT NOT NULL DEFAULT '',
		signature          TEXT NOT NULL DEFAULT '',
		leader_provider_id TEXT NOT NULL DEFAULT '',
		http_status        INTEGER NOT NULL DEFAULT 0,
		observed_at        TIMESTAMP NOT NULL,
		PRIMARY KEY (id_cot, id_renglon)
	)`,
	`CREATE TABLE IF NOT EXISTS line_item_costs (
		id_cot                 TEXT NOT NULL,
		id_renglon             TEXT NOT NULL,
		unit                   TEXT NOT NULL DEFAULT '',
		brand                  TEXT NOT NULL DEFAULT '',
		notes                  TEXT NOT NULL DEFAULT '',
		exchange_rate          REAL,
		cost_unit_ars          REAL,
		cost_total_ars         REAL,
		cost_unit_usd          REAL,
		cost_total_usd         REAL,
		quantity               REAL,
		items_per_renglon      REAL NOT NULL DEFAULT 1,
		min_margin             REAL,
		tracked                INTEGER NOT NULL DEFAULT 0,
		my_offer               INTEGER NOT NULL DEFAULT 0,
		hide_below_threshold   INTEGER NOT NULL DEFAULT 0,
		price_unit_acceptable  REAL,
		price_total_acceptable REAL,
		price_ref_unit         REAL,
		renta_ref              REAL,
		price_unit_mejora      REAL,
		renta_para_mejorar     REAL,
		updated_at             TIMESTAMP NOT NULL,
		PRIMARY KEY (id_cot, id_renglon)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		id_cot     TEXT NOT NULL,
		id_renglon TEXT NOT NULL DEFAULT '',
		level      TEXT NOT NULL,
		type       TEXT NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_cot_id ON events(id_cot, id)`,
	`CREATE TABLE IF NOT EXISTS ui_config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the store at path. ":memory:" gives
// an in-process database, used by tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertAuction(ctx context.Context, a Auction) error {
	now := time.Now().UTC()
	if a.State == "" {
		a.State = AuctionRunning
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions (id_cot, url, margin, state, provider_id, run_id,
			started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id_cot) DO UPDATE SET
			url = excluded.url,
			margin = COALESCE(excluded.margin, auctions.margin),
			state = excluded.state,
			provider_id = CASE WHEN excluded.provider_id != '' THEN excluded.provider_id ELSE auctions.provider_id END,
			run_id = CASE WHEN excluded.run_id != '' THEN excluded.run_id ELSE auctions.run_id END,
			updated_at = excluded.updated_at
	`, a.ID, a.URL, a.Margin, a.State, a.ProviderID, a.RunID, a.StartedAt, now, now)
	if err != nil {
		return fmt.Errorf("upsert auction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAuction(ctx context.Context, auctionID string) (*Auction, error) {
	var a Auction
	var margin sql.NullFloat64
	var endedAt, lastOKAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id_cot, url, margin, state, provider_id, run_id, started_at,
			ended_at, last_ok_at, last_http_code, error_streak, created_at, updated_at
		FROM auctions WHERE id_cot = ?
	`, auctionID).Scan(&a.ID, &a.URL, &margin, &a.State, &a.ProviderID, &a.RunID,
		&a.StartedAt, &endedAt, &lastOKAt, &a.LastHTTPCode, &a.ErrorStreak,
		&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auction: %w", err)
	}
	a.Margin = nullToPtr(margin)
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	if lastOKAt.Valid {
		t := lastOKAt.Time
		a.LastOKAt = &t
	}
	return &a, nil
}

func (s *SQLiteStore) SetAuctionState(ctx context.Context, auctionID, state string) error {
	now := time.Now().UTC()
	var err error
	if state == AuctionEnded {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auctions SET state = ?, ended_at = ?, updated_at = ? WHERE id_cot = ?
		`, state, now, now, auctionID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auctions SET state = ?, updated_at = ? WHERE id_cot = ?
		`, state, now, auctionID)
	}
	if err != nil {
		return fmt.Errorf("set auction state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetAuctionHealth(ctx context.Context, auctionID string, httpCode, errorStreak int, ok bool) error {
	now := time.Now().UTC()
	var err error
	if ok {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auctions SET last_http_code = ?, error_streak = ?, last_ok_at = ?, updated_at = ?
			WHERE id_cot = ?
		`, httpCode, errorStreak, now, now, auctionID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auctions SET last_http_code = ?, error_streak = ?, updated_at = ?
			WHERE id_cot = ?
		`, httpCode, errorStreak, now, auctionID)
	}
	if err != nil {
		return fmt.Errorf("set auction health: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertLineItem(ctx context.Context, li LineItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO line_items (id_cot, id_renglon, description, quantity, ref_unit, budget)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id_cot, id_renglon) DO UPDATE SET
			description = excluded.description,
			quantity = COALESCE(excluded.quantity, line_items.quantity),
			ref_unit = COALESCE(excluded.ref_unit, line_items.ref_unit),
			budget = COALESCE(excluded.budget, line_items.budget)
	`, li.AuctionID, li.ID, li.Description, li.Quantity, li.RefUnit, li.Budget)
	if err != nil {
		return fmt.Errorf("upsert line item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLineItems(ctx context.Context, auctionID string) ([]LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_cot, id_renglon, description, quantity, ref_unit, budget
		FROM line_items WHERE id_cot = ? ORDER BY id_renglon
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var li LineItem
		var qty, ref, budget sql.NullFloat64
		if err := rows.Scan(&li.AuctionID, &li.ID, &li.Description, &qty, &ref, &budget); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		li.Quantity = nullToPtr(qty)
		li.RefUnit = nullToPtr(ref)
		li.Budget = nullToPtr(budget)
		items = append(items, li)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) UpsertLineItemState(ctx context.Context, st LineItemState) error {
	if st.ObservedAt.IsZero() {
		st.ObservedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO line_item_states (
			id_cot, id_renglon, best_text, best, min_to_beat_text, min_to_beat,
			budget_text, budget, message, signature, leader_provider_id,
			http_status, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id_cot, id_renglon) DO UPDATE SET
			best_text = excluded.best_text,
			best = excluded.best,
			min_to_beat_text = excluded.min_to_beat_text,
			min_to_beat = excluded.min_to_beat,
			budget_text = excluded.budget_text,
			budget = excluded.budget,
			message = excluded.message,
			signature = excluded.signature,
			leader_provider_id = excluded.leader_provider_id,
			http_status = excluded.http_status,
			observed_at = excluded.observed_at
	`, st.AuctionID, st.LineItemID, st.BestText, st.Best, st.MinToBeatText, st.MinToBeat,
		st.BudgetText, st.Budget, st.Message, st.Signature, st.LeaderProviderID,
		st.HTTPStatus, st.ObservedAt)
	if err != nil {
		return fmt.Errorf("upsert line item state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLineItemState(ctx context.Context, auctionID, lineItemID string) (*LineItemState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id_cot, id_renglon, best_text, best, min_to_beat_text, min_to_beat,
			budget_text, budget, message, signature, leader_provider_id,
			http_status, observed_at
		FROM line_item_states WHERE id_cot = ? AND id_renglon = ?
	`, auctionID, lineItemID)
	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get line item state: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) ListLineItemStates(ctx context.Context, auctionID string) ([]LineItemState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_cot, id_renglon, best_text, best, min_to_beat_text, min_to_beat,
			budget_text, budget, message, signature, leader_provider_id,
			http_status, observed_at
		FROM line_item_states WHERE id_cot = ? ORDER BY id_renglon
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line item states: %w", err)
	}
	defer rows.Close()

	var states []LineItemState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line item state: %w", err)
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

func (s *SQLiteStore) PutLineItemCosts(ctx context.Context, c LineItemCosts) error {
	if c.ItemsPerRenglon == 0 {
		c.ItemsPerRenglon = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO line_item_costs (
			id_cot, id_renglon, unit, brand, notes, exchange_rate,
			cost_unit_ars, cost_total_ars, cost_unit_usd, cost_total_usd,
			quantity, items_per_renglon, min_margin, tracked, my_offer,
			hide_below_threshold, price_unit_acceptable, price_total_acceptable,
			price_ref_unit, renta_ref, price_unit_mejora, renta_para_mejorar,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id_cot, id_renglon) DO UPDATE SET
			unit = excluded.unit,
			brand = excluded.brand,
			notes = excluded.notes,
			exchange_rate = excluded.exchange_rate,
			cost_unit_ars = excluded.cost_unit_ars,
			cost_total_ars = excluded.cost_total_ars,
			cost_unit_usd = excluded.cost_unit_usd,
			cost_total_usd = excluded.cost_total_usd,
			quantity = excluded.quantity,
			items_per_renglon = excluded.items_per_renglon,
			min_margin = excluded.min_margin,
			tracked = excluded.tracked,
			my_offer = excluded.my_offer,
			hide_below_threshold = excluded.hide_below_threshold,
			price_unit_acceptable = excluded.price_unit_acceptable,
			price_total_acceptable = excluded.price_total_acceptable,
			price_ref_unit = excluded.price_ref_unit,
			renta_ref = excluded.renta_ref,
			price_unit_mejora = excluded.price_unit_mejora,
			renta_para_mejorar = excluded.renta_para_mejorar,
			updated_at = excluded.updated_at
	`, c.AuctionID, c.LineItemID, c.Unit, c.Brand, c.Notes, c.ExchangeRate,
		c.CostUnitARS, c.CostTotalARS, c.CostUnitUSD, c.CostTotalUSD,
		c.Quantity, c.ItemsPerRenglon, c.MinMargin, c.Tracked, c.MyOffer,
		c.HideBelowThreshold, c.PriceUnitAcceptable, c.PriceTotalAcceptable,
		c.PriceRefUnit, c.RentaRef, c.PriceUnitMejora, c.RentaParaMejorar,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put line item costs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLineItemCosts(ctx context.Context, auctionID, lineItemID string) (*LineItemCosts, error) {
	row := s.db.QueryRowContext(ctx, costsSelect+` WHERE id_cot = ? AND id_renglon = ?`,
		auctionID, lineItemID)
	c, err := scanCosts(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get line item costs: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListLineItemCosts(ctx context.Context, auctionID string) ([]LineItemCosts, error) {
	rows, err := s.db.QueryContext(ctx, costsSelect+` WHERE id_cot = ? ORDER BY id_renglon`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line item costs: %w", err)
	}
	defer rows.Close()

	var all []LineItemCosts
	for rows.Next() {
		c, err := scanCosts(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line item costs: %w", err)
		}
		all = append(all, *c)
	}
	return all, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e EventRow) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id_cot, id_renglon, level, type, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.AuctionID, e.LineItemID, e.Level, e.Type, e.Message, e.Payload, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, auctionID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, id_cot, id_renglon, level, type, message, payload, created_at
		FROM events WHERE id_cot = ? ORDER BY id DESC LIMIT ?
	`, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.AuctionID, &e.LineItemID, &e.Level, &e.Type,
			&e.Message, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) GetUIConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ui_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get ui config: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetUIConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ui_config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set ui config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CleanupLogs(ctx context.Context, auctionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id_cot = ?`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("cleanup logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CleanupStates(ctx context.Context, auctionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM line_item_states WHERE id_cot = ?`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("cleanup states: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CleanupAll(ctx context.Context, auctionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cleanup all: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"events", "line_item_states", "line_item_costs", "line_items", "auctions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id_cot = ?`, auctionID); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return tx.Commit()
}

const costsSelect = `
	SELECT id_cot, id_renglon, unit, brand, notes, exchange_rate,
		cost_unit_ars, cost_total_ars, cost_unit_usd, cost_total_usd,
		quantity, items_per_renglon, min_margin, tracked, my_offer,
		hide_below_threshold, price_unit_acceptable, price_total_acceptable,
		price_ref_unit, renta_ref, price_unit_mejora, renta_para_mejorar,
		updated_at
	FROM line_item_costs`

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanState(sc scanner) (*LineItemState, error) {
	var st LineItemState
	var best, min, budget sql.NullFloat64
	err := sc.Scan(&st.AuctionID, &st.LineItemID, &st.BestText, &best,
		&st.MinToBeatText, &min, &st.BudgetText, &budget, &st.Message,
		&st.Signature, &st.LeaderProviderID, &st.HTTPStatus, &st.ObservedAt)
	if err != nil {
		return nil, err
	}
	st.Best = nullToPtr(best)
	st.MinToBeat = nullToPtr(min)
	st.Budget = nullToPtr(budget)
	return &st, nil
}

func scanCosts(sc scanner) (*LineItemCosts, error) {
	var c LineItemCosts
	var fx, cu, ct, cuUSD, ctUSD, qty, mm sql.NullFloat64
	var pua, pta, pru, rr, pum, rpm sql.NullFloat64
	err := sc.Scan(&c.AuctionID, &c.LineItemID, &c.Unit, &c.Brand, &c.Notes, &fx,
		&cu, &ct, &cuUSD, &ctUSD, &qty, &c.ItemsPerRenglon, &mm, &c.Tracked,
		&c.MyOffer, &c.HideBelowThreshold, &pua, &pta, &pru, &rr, &pum, &rpm,
		&c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ExchangeRate = nullToPtr(fx)
	c.CostUnitARS = nullToPtr(cu)
	c.CostTotalARS = nullToPtr(ct)
	c.CostUnitUSD = nullToPtr(cuUSD)
	c.CostTotalUSD = nullToPtr(ctUSD)
	c.Quantity = nullToPtr(qty)
	c.MinMargin = nullToPtr(mm)
	c.PriceUnitAcceptable = nullToPtr(pua)
	c.PriceTotalAcceptable = nullToPtr(pta)
	c.PriceRefUnit = nullToPtr(pru)
	c.RentaRef = nullToPtr(rr)
	c.PriceUnitMejora = nullToPtr(pum)
	c.RentaParaMejorar = nullToPtr(rpm)
	return &c, nil
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
