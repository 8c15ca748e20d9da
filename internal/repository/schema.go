package repository

// Schema definitions for the batch sink.
// Compatible with both SQLite and PostgreSQL.

// Timestamps are stored as text: RFC 3339 for batch instants and the CSV
// layout for transaction timestamps, so both drivers round-trip them alike.
const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    seed TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    months INTEGER NOT NULL,
    as_of TEXT NOT NULL,
    created_at TEXT NOT NULL,
    output_path TEXT,
    flagged INTEGER NOT NULL DEFAULT 0,
    summary TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    batch_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    origin_country TEXT NOT NULL,
    destination_country TEXT NOT NULL,
    channel TEXT NOT NULL,
    transaction_type TEXT NOT NULL,
    counterparty_type TEXT NOT NULL,
    is_cross_border INTEGER NOT NULL,
    is_cash INTEGER NOT NULL,
    device_id TEXT NOT NULL,
    alert_type TEXT NOT NULL DEFAULT '',
    matched_rules INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (batch_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_batch_ts ON transactions(batch_id, timestamp, seq);
CREATE INDEX IF NOT EXISTS idx_transactions_alert ON transactions(batch_id, alert_type);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(batch_id, customer_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBatches,
		schemaTransactions,
	}
}
