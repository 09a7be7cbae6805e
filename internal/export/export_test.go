package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/subastas-monitor/internal/money"
	"github.com/nmoreno/subastas-monitor/internal/store"
)

const testAuctionID = "22053"

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertAuction(ctx, store.Auction{ID: testAuctionID, State: store.AuctionRunning}))
	require.NoError(t, st.UpsertLineItem(ctx, store.LineItem{AuctionID: testAuctionID, ID: "7"}))
	return st
}

func TestMarginRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Stored as a fraction.
	require.NoError(t, st.PutLineItemCosts(ctx, store.LineItemCosts{
		AuctionID:       testAuctionID,
		LineItemID:      "7",
		ItemsPerRenglon: 1,
		CostUnitARS:     money.Ptr(100),
		MinMargin:       money.Ptr(0.30),
	}))

	rows, err := BuildRows(ctx, st, testAuctionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Exported as a percentage.
	require.NotNil(t, rows[0].MinMarginPct)
	assert.InDelta(t, 30.0, *rows[0].MinMarginPct, 1e-9)

	// Re-import lands back on the fraction.
	require.NoError(t, ApplyRows(ctx, st, testAuctionID, rows))
	c, err := st.GetLineItemCosts(ctx, testAuctionID, "7")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NotNil(t, c.MinMargin)
	assert.InDelta(t, 0.30, *c.MinMargin, 1e-9)
}

func TestApplyRowsNormalizesFractionInput(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// A sheet that already carries fractions (0.25 < 1) imports unchanged.
	rows := []Row{{
		LineItemID:      "7",
		ItemsPerRenglon: 1,
		MinMarginPct:    money.Ptr(0.25),
	}}
	require.NoError(t, ApplyRows(ctx, st, testAuctionID, rows))

	c, err := st.GetLineItemCosts(ctx, testAuctionID, "7")
	require.NoError(t, err)
	require.NotNil(t, c.MinMargin)
	assert.InDelta(t, 0.25, *c.MinMargin, 1e-9)
}

func TestExportImportKeepsUSDColumns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutLineItemCosts(ctx, store.LineItemCosts{
		AuctionID:          testAuctionID,
		LineItemID:         "7",
		ItemsPerRenglon:    1,
		ExchangeRate:       money.Ptr(1050),
		CostUnitUSD:        money.Ptr(4.2),
		CostTotalUSD:       money.Ptr(420),
		HideBelowThreshold: true,
	}))

	rows, err := BuildRows(ctx, st, testAuctionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].CostUnitUSD)
	assert.InDelta(t, 4.2, *rows[0].CostUnitUSD, 1e-9)
	assert.True(t, rows[0].HideBelowThreshold)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.NoError(t, ApplyRows(ctx, st, testAuctionID, got))

	c, err := st.GetLineItemCosts(ctx, testAuctionID, "7")
	require.NoError(t, err)
	require.NotNil(t, c.CostUnitUSD)
	assert.InDelta(t, 4.2, *c.CostUnitUSD, 1e-9)
	require.NotNil(t, c.CostTotalUSD)
	assert.InDelta(t, 420, *c.CostTotalUSD, 1e-9)
	assert.True(t, c.HideBelowThreshold)
}

func TestApplyRowsKeepsDerivedMetrics(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutLineItemCosts(ctx, store.LineItemCosts{
		AuctionID:           testAuctionID,
		LineItemID:          "7",
		ItemsPerRenglon:     1,
		CostUnitARS:         money.Ptr(5),
		PriceUnitAcceptable: money.Ptr(6.5),
		RentaParaMejorar:    money.Ptr(0.78),
	}))

	// Re-importing the sheet touches user fields only; the derived pricing
	// stays until the engine recomputes it.
	rows := []Row{{LineItemID: "7", Brand: "Acme", CostUnitARS: money.Ptr(6), ItemsPerRenglon: 1}}
	require.NoError(t, ApplyRows(ctx, st, testAuctionID, rows))

	c, err := st.GetLineItemCosts(ctx, testAuctionID, "7")
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Brand)
	require.NotNil(t, c.CostUnitARS)
	assert.InDelta(t, 6, *c.CostUnitARS, 1e-9)
	require.NotNil(t, c.PriceUnitAcceptable)
	assert.InDelta(t, 6.5, *c.PriceUnitAcceptable, 1e-9)
	require.NotNil(t, c.RentaParaMejorar)
	assert.InDelta(t, 0.78, *c.RentaParaMejorar, 1e-9)
}

func TestApplyRowsRequiresLineItemID(t *testing.T) {
	st := openTestStore(t)
	err := ApplyRows(context.Background(), st, testAuctionID, []Row{{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_renglon")
}

func TestCSVRoundTrip(t *testing.T) {
	rows := []Row{
		{
			LineItemID:         "7",
			Unit:               "caja x100",
			Brand:              "Acme",
			Notes:              "entrega 48h",
			ExchangeRate:       money.Ptr(1050.5),
			CostUnitARS:        money.Ptr(5),
			CostTotalARS:       money.Ptr(500),
			CostUnitUSD:        money.Ptr(4.76),
			CostTotalUSD:       money.Ptr(476),
			Quantity:           money.Ptr(100),
			ItemsPerRenglon:    1,
			MinMarginPct:       money.Ptr(30),
			Tracked:            true,
			HideBelowThreshold: true,
		},
		{
			LineItemID:      "8",
			ItemsPerRenglon: 4,
			MyOffer:         true,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestReadCSVReorderedColumns(t *testing.T) {
	csv := "min_margin_pct,id_renglon,tracked\n30,7,true\n"
	rows, err := ReadCSV(bytes.NewReader([]byte(csv)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0].LineItemID)
	assert.True(t, rows[0].Tracked)
	require.NotNil(t, rows[0].MinMarginPct)
	assert.InDelta(t, 30, *rows[0].MinMarginPct, 1e-9)
}

func TestReadCSVMissingIDColumn(t *testing.T) {
	_, err := ReadCSV(bytes.NewReader([]byte("unit,brand\na,b\n")))
	require.Error(t, err)
}
