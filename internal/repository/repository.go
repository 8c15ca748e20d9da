// Package repository mirrors generated batches into SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Listing limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 1000
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case domain.DriverSQLite:
		db, err = openSQLite(cfg)
	case domain.DriverPostgres:
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBatch stores the batch header and all its transactions in one
// database transaction.
func (r *SQLRepository) SaveBatch(ctx context.Context, record *domain.BatchRecord, txs []domain.Transaction) (err error) {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}

	summary, err := json.Marshal(record.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = dbtx.Rollback()
		}
	}()

	batchQuery := `
		INSERT INTO batches (
			id, seed, row_count, months, as_of, created_at, output_path, flagged, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err = dbtx.ExecContext(ctx, r.rebind(batchQuery),
		record.ID, strconv.FormatUint(record.Seed, 10), record.Rows, record.Months,
		formatInstant(record.AsOf), formatInstant(record.CreatedAt),
		record.OutputPath, record.Summary.Flagged, string(summary),
	); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	txQuery := `
		INSERT INTO transactions (
			batch_id, seq, id, customer_id, timestamp, amount, currency,
			origin_country, destination_country, channel, transaction_type,
			counterparty_type, is_cross_border, is_cash, device_id,
			alert_type, matched_rules
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := dbtx.PrepareContext(ctx, r.rebind(txQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range txs {
		tx := &txs[i]
		if _, err = stmt.ExecContext(ctx,
			record.ID, i, tx.ID, tx.CustomerID, formatTimestamp(tx.Timestamp),
			tx.Amount.String(), tx.Currency,
			tx.OriginCountry, tx.DestinationCountry, tx.Channel, tx.Type,
			tx.CounterpartyType, boolToInt(tx.CrossBorder), boolToInt(tx.Cash), tx.DeviceID,
			string(tx.AlertType), int(tx.Matches),
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}
	}

	return dbtx.Commit()
}

// GetBatch retrieves a batch header by ID.
func (r *SQLRepository) GetBatch(ctx context.Context, batchID string) (*domain.BatchRecord, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, seed, row_count, months, as_of, created_at, output_path, summary
		FROM batches
		WHERE id = ?
	`

	rec, err := scanBatch(r.db.QueryRowContext(ctx, r.rebind(query), batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListBatches returns the most recent batches first.
func (r *SQLRepository) ListBatches(ctx context.Context, limit int) ([]*domain.BatchRecord, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	query := `
		SELECT id, seed, row_count, months, as_of, created_at, output_path, summary
		FROM batches
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.BatchRecord
	for rows.Next() {
		rec, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListTransactions returns a batch's transactions in timestamp order,
// optionally filtered by alert type.
func (r *SQLRepository) ListTransactions(ctx context.Context, batchID string, alertType *domain.AlertType) ([]domain.Transaction, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}
	if alertType != nil && !alertType.Valid() {
		return nil, fmt.Errorf("%w: unknown alert type %q", ErrInvalidInput, *alertType)
	}

	query := `
		SELECT id, customer_id, timestamp, amount, currency,
			   origin_country, destination_country, channel, transaction_type,
			   counterparty_type, is_cross_border, is_cash, device_id,
			   alert_type, matched_rules
		FROM transactions
		WHERE batch_id = ?
	`
	args := []any{batchID}
	if alertType != nil {
		query += " AND alert_type = ?"
		args = append(args, string(*alertType))
	}
	query += " ORDER BY timestamp, seq"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var ts, amount, alert string
		var cross, cash, matches int

		if err := rows.Scan(
			&tx.ID, &tx.CustomerID, &ts, &amount, &tx.Currency,
			&tx.OriginCountry, &tx.DestinationCountry, &tx.Channel, &tx.Type,
			&tx.CounterpartyType, &cross, &cash, &tx.DeviceID,
			&alert, &matches,
		); err != nil {
			return nil, err
		}

		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: invalid amount %q: %w", tx.ID, amount, err)
		}
		tx.Timestamp = parseTimestamp(ts)
		tx.CrossBorder = cross == 1
		tx.Cash = cash == 1
		tx.AlertType = domain.AlertType(alert)
		tx.Matches = domain.RuleSet(matches)
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.BatchRecord, error) {
	var rec domain.BatchRecord
	var seed, asOf, createdAt, summary string
	var outputPath sql.NullString

	if err := row.Scan(
		&rec.ID, &seed, &rec.Rows, &rec.Months, &asOf, &createdAt, &outputPath, &summary,
	); err != nil {
		return nil, err
	}

	var err error
	if rec.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("batch %s: invalid seed %q: %w", rec.ID, seed, err)
	}
	rec.AsOf = parseInstant(asOf)
	rec.CreatedAt = parseInstant(createdAt)
	rec.OutputPath = outputPath.String
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return nil, fmt.Errorf("batch %s: failed to parse summary: %w", rec.ID, err)
	}
	return &rec, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != domain.DriverPostgres {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// instantLayout is fixed width so that stored instants sort as text.
const instantLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

func parseInstant(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(domain.TimestampLayout)
}

func parseTimestamp(v string) time.Time {
	t, err := time.ParseInLocation(domain.TimestampLayout, v, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
