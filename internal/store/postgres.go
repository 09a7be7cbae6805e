package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig describes one PostgreSQL connection.
type PGConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg PGConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

var pgDDL = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
		id_cot         TEXT PRIMARY KEY,
		url            TEXT NOT NULL DEFAULT '',
		margin         DOUBLE PRECISION,
		state          TEXT NOT NULL DEFAULT 'RUNNING',
		provider_id    TEXT NOT NULL DEFAULT '',
		run_id         TEXT NOT NULL DEFAULT '',
		started_at     TIMESTAMPTZ NOT NULL,
		ended_at       TIMESTAMPTZ,
		last_ok_at     TIMESTAMPTZ,
		last_http_code INTEGER NOT NULL DEFAULT 0,
		error_streak   INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id_cot      TEXT NOT NULL REFERENCES auctions(id_cot) ON DELETE CASCADE,
		id_renglon  TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		quantity    DOUBLE PRECISION,
		ref_unit    DOUBLE PRECISION,
		budget      DOUBLE PRECISION,
		PRIMARY KEY (id_cot, id_renglon)
	)`,
	`CREATE TABLE IF NOT EXISTS line_item_states (
		id_cot             TEXT NOT NULL,
		id_renglon         TEXT NOT NULL,
		best_text          TEXT NOT NULL DEFAULT '',
		best               DOUBLE PRECISION,
		min_to_beat_text   TEXT NOT NULL DEFAULT '',
		min_to_beat        DOUBLE PRECISION,
		budget_text        TEXT NOT NULL DEFAULT '',
		budget             DOUBLE PRECISION,
		message            TEXT NOT NULL DEFAULT '',
		signature          TEXT NOT NULL DEFAULT '',
		leader_provider_id TEXT NOT NULL DEFAULT '',
		http_status        INTEGER NOT NULL DEFAULT 0,
		observed_at        TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (id_cot, id_renglon)
	)`,
	`CREATE TABLE IF NOT EXISTS line_item_costs (
		id_cot                 TEXT NOT NULL,
		id_renglon             TEXT NOT NULL,
		unit                   TEXT NOT NULL DEFAULT '',
		brand                  TEXT NOT NULL DEFAULT '',
		notes                  TEXT NOT NULL DEFAULT '',
		exchange_rate          DOUBLE PRECISION,
		cost_unit_ars          DOUBLE PRECISION,
		cost_total_ars         DOUBLE PRECISION,
		cost_unit_usd          DOUBLE PRECISION,
		cost_total_usd         DOUBLE PRECISION,
		quantity               DOUBLE PRECISION,
		items_per_renglon      DOUBLE PRECISION NOT NULL DEFAULT 1,
		min_margin             DOUBLE PRECISION,
		tracked                BOOLEAN NOT NULL DEFAULT FALSE,
		my_offer               BOOLEAN NOT NULL DEFAULT FALSE,
		hide_below_threshold   BOOLEAN NOT NULL DEFAULT FALSE,
		price_unit_acceptable  DOUBLE PRECISION,
		price_total_acceptable DOUBLE PRECISION,
		price_ref_unit         DOUBLE PRECISION,
		renta_ref              DOUBLE PRECISION,
		price_unit_mejora      DOUBLE PRECISION,
		renta_para_mejorar     DOUBLE PRECISION,
		updated_at             TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (id_cot, id_renglon)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         BIGSERIAL PRIMARY KEY,
		id_cot     TEXT NOT NULL,
		id_renglon TEXT NOT NULL DEFAULT '',
		level      TEXT NOT NULL,
		type       TEXT NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_cot_id ON events(id_cot, id)`,
	`CREATE TABLE IF NOT EXISTS ui_config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects, pings, and applies the schema.
func OpenPostgres(ctx context.Context, cfg PGConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range pgDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertAuction(ctx context.Context, a Auction) error {
	now := time.Now().UTC()
	if a.State == "" {
		a.State = AuctionRunning
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auctions (id_cot, url, margin, state, provider_id, run_id,
			started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
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

func (s *PostgresStore) GetAuction(ctx context.Context, auctionID string) (*Auction, error) {
	var a Auction
	err := s.pool.QueryRow(ctx, `
		SELECT id_cot, url, margin, state, provider_id, run_id, started_at,
			ended_at, last_ok_at, last_http_code, error_streak, created_at, updated_at
		FROM auctions WHERE id_cot = $1
	`, auctionID).Scan(&a.ID, &a.URL, &a.Margin, &a.State, &a.ProviderID, &a.RunID,
		&a.StartedAt, &a.EndedAt, &a.LastOKAt, &a.LastHTTPCode, &a.ErrorStreak,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auction: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) SetAuctionState(ctx context.Context, auctionID, state string) error {
	now := time.Now().UTC()
	var err error
	if state == AuctionEnded {
		_, err = s.pool.Exec(ctx, `
			UPDATE auctions SET state = $1, ended_at = $2, updated_at = $2 WHERE id_cot = $3
		`, state, now, auctionID)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE auctions SET state = $1, updated_at = $2 WHERE id_cot = $3
		`, state, now, auctionID)
	}
	if err != nil {
		return fmt.Errorf("set auction state: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAuctionHealth(ctx context.Context, auctionID string, httpCode, errorStreak int, ok bool) error {
	now := time.Now().UTC()
	var err error
	if ok {
		_, err = s.pool.Exec(ctx, `
			UPDATE auctions SET last_http_code = $1, error_streak = $2, last_ok_at = $3, updated_at = $3
			WHERE id_cot = $4
		`, httpCode, errorStreak, now, auctionID)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE auctions SET last_http_code = $1, error_streak = $2, updated_at = $3
			WHERE id_cot = $4
		`, httpCode, errorStreak, now, auctionID)
	}
	if err != nil {
		return fmt.Errorf("set auction health: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertLineItem(ctx context.Context, li LineItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO line_items (id_cot, id_renglon, description, quantity, ref_unit, budget)
		VALUES ($1, $2, $3, $4, $5, $6)
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

func (s *PostgresStore) ListLineItems(ctx context.Context, auctionID string) ([]LineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id_cot, id_renglon, description, quantity, ref_unit, budget
		FROM line_items WHERE id_cot = $1 ORDER BY id_renglon
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.AuctionID, &li.ID, &li.Description, &li.Quantity, &li.RefUnit, &li.Budget); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpsertLineItemState(ctx context.Context, st LineItemState) error {
	if st.ObservedAt.IsZero() {
		st.ObservedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO line_item_states (
			id_cot, id_renglon, best_text, best, min_to_beat_text, min_to_beat,
			budget_text, budget, message, signature, leader_provider_id,
			http_status, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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

func (s *PostgresStore) GetLineItemState(ctx context.Context, auctionID, lineItemID string) (*LineItemState, error) {
	var st LineItemState
	err := s.pool.QueryRow(ctx, `
		SELECT id_cot, id_renglon, best_text, best, min_to_beat_text, min_to_beat,
			budget_text, budget, message, signature, leader_provider_id,
			http_status, observed_at
		FROM line_item_states WHERE id_cot = $1 AND id_renglon = $2
	`, auctionID, lineItemID).Scan(&st.AuctionID, &st.LineItemID, &st.BestText, &st.Best,
		&st.MinToBeatText, &st.MinToBeat, &st.BudgetText, &st.Budget, &st.Message,
		&st.Signature, &st.LeaderProviderID, &st.HTTPStatus, &st.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get line item state: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) ListLineItemStates(ctx context.Context, auctionID string) ([]LineItemState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id_cot, id_renglon, best_text, best, min_to_beat_text, min_to_beat,
			budget_text, budget, message, signature, leader_provider_id,
			http_status, observed_at
		FROM line_item_states WHERE id_cot = $1 ORDER BY id_renglon
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line item states: %w", err)
	}
	defer rows.Close()

	var states []LineItemState
	for rows.Next() {
		var st LineItemState
		if err := rows.Scan(&st.AuctionID, &st.LineItemID, &st.BestText, &st.Best,
			&st.MinToBeatText, &st.MinToBeat, &st.BudgetText, &st.Budget, &st.Message,
			&st.Signature, &st.LeaderProviderID, &st.HTTPStatus, &st.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan line item state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *PostgresStore) PutLineItemCosts(ctx context.Context, c LineItemCosts) error {
	if c.ItemsPerRenglon == 0 {
		c.ItemsPerRenglon = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO line_item_costs (
			id_cot, id_renglon, unit, brand, notes, exchange_rate,
			cost_unit_ars, cost_total_ars, cost_unit_usd, cost_total_usd,
			quantity, items_per_renglon, min_margin, tracked, my_offer,
			hide_below_threshold, price_unit_acceptable, price_total_acceptable,
			price_ref_unit, renta_ref, price_unit_mejora, renta_para_mejorar,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23)
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

const pgCostsSelect = `
	SELECT id_cot, id_renglon, unit, brand, notes, exchange_rate,
		cost_unit_ars, cost_total_ars, cost_unit_usd, cost_total_usd,
		quantity, items_per_renglon, min_margin, tracked, my_offer,
		hide_below_threshold, price_unit_acceptable, price_total_acceptable,
		price_ref_unit, renta_ref, price_unit_mejora, renta_para_mejorar,
		updated_at
	FROM line_item_costs`

func scanPGCosts(row pgx.Row, c *LineItemCosts) error {
	return row.Scan(&c.AuctionID, &c.LineItemID, &c.Unit, &c.Brand, &c.Notes,
		&c.ExchangeRate, &c.CostUnitARS, &c.CostTotalARS, &c.CostUnitUSD,
		&c.CostTotalUSD, &c.Quantity, &c.ItemsPerRenglon, &c.MinMargin,
		&c.Tracked, &c.MyOffer, &c.HideBelowThreshold, &c.PriceUnitAcceptable,
		&c.PriceTotalAcceptable, &c.PriceRefUnit, &c.RentaRef,
		&c.PriceUnitMejora, &c.RentaParaMejorar, &c.UpdatedAt)
}

func (s *PostgresStore) GetLineItemCosts(ctx context.Context, auctionID, lineItemID string) (*LineItemCosts, error) {
	var c LineItemCosts
	err := scanPGCosts(s.pool.QueryRow(ctx,
		pgCostsSelect+` WHERE id_cot = $1 AND id_renglon = $2`, auctionID, lineItemID), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get line item costs: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListLineItemCosts(ctx context.Context, auctionID string) ([]LineItemCosts, error) {
	rows, err := s.pool.Query(ctx, pgCostsSelect+` WHERE id_cot = $1 ORDER BY id_renglon`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line item costs: %w", err)
	}
	defer rows.Close()

	var all []LineItemCosts
	for rows.Next() {
		var c LineItemCosts
		if err := scanPGCosts(rows, &c); err != nil {
			return nil, fmt.Errorf("scan line item costs: %w", err)
		}
		all = append(all, c)
	}
	return all, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e EventRow) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (id_cot, id_renglon, level, type, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.AuctionID, e.LineItemID, e.Level, e.Type, e.Message, e.Payload, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, auctionID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, id_cot, id_renglon, level, type, message, payload, created_at
		FROM events WHERE id_cot = $1 ORDER BY id DESC LIMIT $2
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

func (s *PostgresStore) GetUIConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM ui_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get ui config: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetUIConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ui_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set ui config: %w", err)
	}
	return nil
}

func (s *PostgresStore) CleanupLogs(ctx context.Context, auctionID string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id_cot = $1`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("cleanup logs: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) CleanupStates(ctx context.Context, auctionID string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM line_item_states WHERE id_cot = $1`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("cleanup states: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) CleanupAll(ctx context.Context, auctionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup all: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"events", "line_item_states", "line_item_costs", "line_items", "auctions"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE id_cot = $1`, auctionID); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}
