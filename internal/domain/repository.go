// Package domain defines the core interfaces and types for FinCrime Signals.
package domain

import (
	"context"
	"time"
)

// Repository mirrors generated batches into a SQL database.
// It is a dataset sink: nothing read back from it changes labels.
type Repository interface {
	// SaveBatch stores the batch header and every transaction atomically.
	SaveBatch(ctx context.Context, record *BatchRecord, txs []Transaction) error
	GetBatch(ctx context.Context, batchID string) (*BatchRecord, error)
	ListBatches(ctx context.Context, limit int) ([]*BatchRecord, error)

	// ListTransactions returns a batch's transactions in timestamp order.
	// A nil alertType returns all rows; a pointer to AlertNone returns the
	// unflagged ones.
	ListTransactions(ctx context.Context, batchID string, alertType *AlertType) ([]Transaction, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Repository drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is "none", "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}
