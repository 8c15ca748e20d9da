// Package export writes labelled transactions to CSV and reads them back.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// Columns is the fixed output header.
var Columns = []string{
	"transaction_id",
	"customer_id",
	"timestamp",
	"amount",
	"currency",
	"origin_country",
	"destination_country",
	"channel",
	"transaction_type",
	"counterparty_type",
	"is_cross_border",
	"is_cash",
	"device_id",
	"is_flagged",
	"alert_type",
}

// ColumnMatchedRules is appended when Options.IncludeMatchedRules is set.
const ColumnMatchedRules = "matched_rules"

// Options controls the output format.
type Options struct {
	IncludeMatchedRules bool
}

// SortByTimestamp returns txs ordered by timestamp. Ties keep their input
// order. txs is not modified.
func SortByTimestamp(txs []domain.Transaction) []domain.Transaction {
	sorted := make([]domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// Encode writes txs to w in the given order.
func Encode(w io.Writer, txs []domain.Transaction, opts Options) error {
	cw := csv.NewWriter(w)

	header := Columns
	if opts.IncludeMatchedRules {
		header = append(append([]string{}, Columns...), ColumnMatchedRules)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i := range txs {
		tx := &txs[i]
		record[0] = tx.ID
		record[1] = tx.CustomerID
		record[2] = formatTimestamp(tx.Timestamp)
		record[3] = tx.Amount.String()
		record[4] = tx.Currency
		record[5] = tx.OriginCountry
		record[6] = tx.DestinationCountry
		record[7] = tx.Channel
		record[8] = tx.Type
		record[9] = tx.CounterpartyType
		record[10] = formatBool(tx.CrossBorder)
		record[11] = formatBool(tx.Cash)
		record[12] = tx.DeviceID
		record[13] = formatBool(tx.Flagged())
		record[14] = string(tx.AlertType)
		if opts.IncludeMatchedRules {
			record[15] = tx.Matches.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes txs sorted by timestamp to path. The file is written to
// a temporary sibling, synced and renamed into place, so path either keeps
// its old content or holds the complete new file.
func WriteFile(path string, txs []domain.Transaction, opts Options) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	buf := bufio.NewWriterSize(tmp, 64*1024)
	if err := Encode(buf, SortByTimestamp(txs), opts); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := buf.Flush(); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	return nil
}

// ReadFile parses a file written by WriteFile.
func ReadFile(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses transactions from r. Unparsable timestamps become zero
// instants; an unparsable amount is an error.
func Decode(r io.Reader) ([]domain.Transaction, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, name := range Columns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %s", name)
		}
	}
	matchedCol, hasMatched := cols[ColumnMatchedRules]

	var txs []domain.Transaction
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		get := func(name string) string { return record[cols[name]] }

		amount, err := decimal.NewFromString(get("amount"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, get("amount"), err)
		}

		tx := domain.Transaction{
			ID:                 get("transaction_id"),
			CustomerID:         get("customer_id"),
			Timestamp:          parseTimestamp(get("timestamp")),
			Amount:             amount,
			Currency:           get("currency"),
			OriginCountry:      get("origin_country"),
			DestinationCountry: get("destination_country"),
			Channel:            get("channel"),
			Type:               get("transaction_type"),
			CounterpartyType:   get("counterparty_type"),
			CrossBorder:        parseBool(get("is_cross_border")),
			Cash:               parseBool(get("is_cash")),
			DeviceID:           get("device_id"),
			AlertType:          domain.AlertType(get("alert_type")),
		}
		if hasMatched {
			tx.Matches = domain.ParseRuleSet(record[matchedCol])
		}
		if parseBool(get("is_flagged")) != tx.Flagged() {
			return nil, fmt.Errorf("line %d: is_flagged disagrees with alert_type %q", line, tx.AlertType)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(domain.TimestampLayout)
}

func parseTimestamp(v string) time.Time {
	ts, err := time.ParseInLocation(domain.TimestampLayout, v, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true")
}
