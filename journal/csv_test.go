package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/propdesk/broker"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{tradeHeader}, readCSV(t, tradesPath))
	assert.Equal(t, [][]string{equityHeader}, readCSV(t, equityPath))
}

func TestExportCSV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()

	closed := openTrade("T1", "A1", t0)
	closedAt := t0.Add(time.Hour)
	closed.ClosePrice = broker.Float(1.105)
	closed.ClosedAt = &closedAt
	closed.Profit = 250
	closed.CloseReason = broker.TPHit
	require.NoError(t, s.InsertTrade(ctx, closed))
	require.NoError(t, s.InsertTrade(ctx, openTrade("T2", "A1", t0.Add(time.Minute))))
	require.NoError(t, s.InsertTrade(ctx, openTrade("T3", "A2", t0)))
	require.NoError(t, s.InsertSnapshot(ctx, broker.EquitySnapshot{ID: "S1", AccountID: "A1", Equity: 10250, Balance: 10250, Time: closedAt}))

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")
	require.NoError(t, ExportCSV(ctx, s, "A1", tradesPath, equityPath))

	trades := readCSV(t, tradesPath)
	require.Len(t, trades, 3)
	assert.Equal(t, []string{
		"T1", "EURUSD", "BUY", "0.500000", "1.100000", "1.105000",
		"2025-03-10T09:00:00Z", "2025-03-10T10:00:00Z", "250.000000", "TP_HIT",
	}, trades[1])
	assert.Equal(t, "", trades[2][5], "open trade has no close price")

	equity := readCSV(t, equityPath)
	require.Len(t, equity, 2)
	assert.Equal(t, []string{"2025-03-10T10:00:00Z", "10250.000000", "10250.000000"}, equity[1])
}
