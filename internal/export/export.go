// Package export moves the operator's cost sheet in and out of the store.
// Margins are stored as fractions but exchanged as percentages, matching
// the spreadsheets the figures come from.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/engine"
	"github.com/nmoreno/subastas-monitor/internal/store"
)

// Row is one line item's user-entered cost data in interchange form.
type Row struct {
	LineItemID      string   `json:"id_renglon"`
	Unit            string   `json:"unit"`
	Brand           string   `json:"brand"`
	Notes           string   `json:"notes"`
	ExchangeRate    *float64 `json:"exchange_rate,omitempty"`
	CostUnitARS     *float64 `json:"cost_unit_ars,omitempty"`
	CostTotalARS    *float64 `json:"cost_total_ars,omitempty"`
	CostUnitUSD     *float64 `json:"cost_unit_usd,omitempty"`
	CostTotalUSD    *float64 `json:"cost_total_usd,omitempty"`
	Quantity        *float64 `json:"quantity,omitempty"`
	ItemsPerRenglon float64  `json:"items_per_renglon"`
	// MinMarginPct is the margin as a percentage ("30" for 30%).
	MinMarginPct       *float64 `json:"min_margin_pct,omitempty"`
	Tracked            bool     `json:"tracked"`
	MyOffer            bool     `json:"my_offer"`
	HideBelowThreshold bool     `json:"hide_below_threshold"`
}

// BuildRows reads every cost record for an auction into interchange rows.
func BuildRows(ctx context.Context, st store.Store, auctionID string) ([]Row, error) {
	costs, err := st.ListLineItemCosts(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list line item costs: %w", err)
	}

	rows := make([]Row, 0, len(costs))
	for _, c := range costs {
		r := Row{
			LineItemID:         c.LineItemID,
			Unit:               c.Unit,
			Brand:              c.Brand,
			Notes:              c.Notes,
			ExchangeRate:       c.ExchangeRate,
			CostUnitARS:        c.CostUnitARS,
			CostTotalARS:       c.CostTotalARS,
			CostUnitUSD:        c.CostUnitUSD,
			CostTotalUSD:       c.CostTotalUSD,
			Quantity:           c.Quantity,
			ItemsPerRenglon:    c.ItemsPerRenglon,
			Tracked:            c.Tracked,
			MyOffer:            c.MyOffer,
			HideBelowThreshold: c.HideBelowThreshold,
		}
		if c.MinMargin != nil {
			pct := engine.ExportMargin(*c.MinMargin)
			r.MinMarginPct = &pct
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// ApplyRows merges interchange rows into the store, normalizing the margin
// to a fraction. The sheet owns the user fields; derived metrics on the
// existing record are kept until the engine refreshes them on the next
// update.
func ApplyRows(ctx context.Context, st store.Store, auctionID string, rows []Row) error {
	for _, r := range rows {
		if r.LineItemID == "" {
			return fmt.Errorf("row without id_renglon")
		}

		c := store.LineItemCosts{AuctionID: auctionID, LineItemID: r.LineItemID}
		existing, err := st.GetLineItemCosts(ctx, auctionID, r.LineItemID)
		if err != nil {
			return fmt.Errorf("get line item costs %s: %w", r.LineItemID, err)
		}
		if existing != nil {
			c = *existing
		}

		c.Unit = r.Unit
		c.Brand = r.Brand
		c.Notes = r.Notes
		c.ExchangeRate = r.ExchangeRate
		c.CostUnitARS = r.CostUnitARS
		c.CostTotalARS = r.CostTotalARS
		c.CostUnitUSD = r.CostUnitUSD
		c.CostTotalUSD = r.CostTotalUSD
		c.Quantity = r.Quantity
		c.ItemsPerRenglon = r.ItemsPerRenglon
		c.Tracked = r.Tracked
		c.MyOffer = r.MyOffer
		c.HideBelowThreshold = r.HideBelowThreshold
		c.MinMargin = nil
		if r.MinMarginPct != nil {
			m := engine.NormalizeMargin(*r.MinMarginPct)
			c.MinMargin = &m
		}
		c.UpdatedAt = time.Now().UTC()

		if err := st.PutLineItemCosts(ctx, c); err != nil {
			return fmt.Errorf("put line item costs %s: %w", r.LineItemID, err)
		}
	}
	return nil
}

var csvHeader = []string{
	"id_renglon", "unit", "brand", "notes", "exchange_rate",
	"cost_unit_ars", "cost_total_ars", "cost_unit_usd", "cost_total_usd",
	"quantity", "items_per_renglon", "min_margin_pct",
	"tracked", "my_offer", "hide_below_threshold",
}

// WriteCSV renders rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.LineItemID,
			r.Unit,
			r.Brand,
			r.Notes,
			formatFloat(r.ExchangeRate),
			formatFloat(r.CostUnitARS),
			formatFloat(r.CostTotalARS),
			formatFloat(r.CostUnitUSD),
			formatFloat(r.CostTotalUSD),
			formatFloat(r.Quantity),
			strconv.FormatFloat(r.ItemsPerRenglon, 'f', -1, 64),
			formatFloat(r.MinMarginPct),
			strconv.FormatBool(r.Tracked),
			strconv.FormatBool(r.MyOffer),
			strconv.FormatBool(r.HideBelowThreshold),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses CSV produced by WriteCSV (or a compatible spreadsheet).
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Map header names to columns so reordered sheets still import.
	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	if _, ok := col["id_renglon"]; !ok {
		return nil, fmt.Errorf("csv is missing the id_renglon column")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	rows := make([]Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		row := Row{
			LineItemID:         field(rec, "id_renglon"),
			Unit:               field(rec, "unit"),
			Brand:              field(rec, "brand"),
			Notes:              field(rec, "notes"),
			Tracked:            field(rec, "tracked") == "true",
			MyOffer:            field(rec, "my_offer") == "true",
			HideBelowThreshold: field(rec, "hide_below_threshold") == "true",
		}
		var err error
		if row.ExchangeRate, err = parseFloat(field(rec, "exchange_rate")); err != nil {
			return nil, fmt.Errorf("line %d: exchange_rate: %w", n+2, err)
		}
		if row.CostUnitARS, err = parseFloat(field(rec, "cost_unit_ars")); err != nil {
			return nil, fmt.Errorf("line %d: cost_unit_ars: %w", n+2, err)
		}
		if row.CostTotalARS, err = parseFloat(field(rec, "cost_total_ars")); err != nil {
			return nil, fmt.Errorf("line %d: cost_total_ars: %w", n+2, err)
		}
		if row.CostUnitUSD, err = parseFloat(field(rec, "cost_unit_usd")); err != nil {
			return nil, fmt.Errorf("line %d: cost_unit_usd: %w", n+2, err)
		}
		if row.CostTotalUSD, err = parseFloat(field(rec, "cost_total_usd")); err != nil {
			return nil, fmt.Errorf("line %d: cost_total_usd: %w", n+2, err)
		}
		if row.Quantity, err = parseFloat(field(rec, "quantity")); err != nil {
			return nil, fmt.Errorf("line %d: quantity: %w", n+2, err)
		}
		if row.MinMarginPct, err = parseFloat(field(rec, "min_margin_pct")); err != nil {
			return nil, fmt.Errorf("line %d: min_margin_pct: %w", n+2, err)
		}
		if ipr, err := parseFloat(field(rec, "items_per_renglon")); err != nil {
			return nil, fmt.Errorf("line %d: items_per_renglon: %w", n+2, err)
		} else if ipr != nil {
			row.ItemsPerRenglon = *ipr
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
