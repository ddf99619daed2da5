package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/propdesk/broker"
)

// CSVJournal writes an account's trade history and equity curve to a pair
// of CSV files for offline review.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

var (
	tradeHeader  = []string{"trade_id", "symbol", "side", "volume", "open_price", "close_price", "opened_at", "closed_at", "profit", "close_reason"}
	equityHeader = []string{"time", "balance", "equity"}
)

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	j := &CSVJournal{csv.NewWriter(tf), csv.NewWriter(ef), tf, ef}
	if err := j.trades.Write(tradeHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	if err := j.equity.Write(equityHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) RecordTrade(t broker.Trade) error {
	closePrice, closedAt := "", ""
	if t.ClosePrice != nil {
		closePrice = f(*t.ClosePrice)
	}
	if t.ClosedAt != nil {
		closedAt = t.ClosedAt.Format(time.RFC3339)
	}
	err := j.trades.Write([]string{
		t.ID,
		t.Symbol,
		string(t.Side),
		f(t.Volume),
		f(t.OpenPrice),
		closePrice,
		t.OpenedAt.Format(time.RFC3339),
		closedAt,
		f(t.Profit),
		string(t.CloseReason),
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) RecordEquity(s broker.EquitySnapshot) error {
	err := j.equity.Write([]string{
		s.Time.Format(time.RFC3339),
		f(s.Balance),
		f(s.Equity),
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

// ExportCSV copies every trade and equity snapshot of accountID from s.
func ExportCSV(ctx context.Context, s Store, accountID, tradesPath, equityPath string) error {
	trades, err := s.ListTrades(ctx, accountID)
	if err != nil {
		return err
	}
	snaps, err := s.ListSnapshotsSince(ctx, accountID, time.Time{})
	if err != nil {
		return err
	}

	j, err := NewCSV(tradesPath, equityPath)
	if err != nil {
		return err
	}
	for _, t := range trades {
		if err := j.RecordTrade(t); err != nil {
			_ = j.Close()
			return fmt.Errorf("export trade %s: %w", t.ID, err)
		}
	}
	for _, snap := range snaps {
		if err := j.RecordEquity(snap); err != nil {
			_ = j.Close()
			return fmt.Errorf("export snapshot %s: %w", snap.ID, err)
		}
	}
	return j.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
