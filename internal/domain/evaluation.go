package domain

import (
	"time"
)

// Batch is one generated and labelled set of transactions.
type Batch struct {
	ID           string        `json:"id"`
	Seed         uint64        `json:"seed"`
	Rows         int           `json:"rows"`
	Months       int           `json:"months"`
	AsOf         time.Time     `json:"asOf"`
	CreatedAt    time.Time     `json:"createdAt"`
	Transactions []Transaction `json:"-"`
	Summary      Summary       `json:"summary"`
}

// Summary aggregates the outcome of a rule pass.
type Summary struct {
	Rows              int               `json:"rows"`
	Flagged           int               `json:"flagged"`
	CrossBorder       int               `json:"crossBorder"`
	Cash              int               `json:"cash"`
	DistinctCustomers int               `json:"distinctCustomers"`
	ByAlertType       map[AlertType]int `json:"byAlertType"`
	RuleMatches       map[AlertType]int `json:"ruleMatches"`
	FirstTimestamp    time.Time         `json:"firstTimestamp,omitempty"`
	LastTimestamp     time.Time         `json:"lastTimestamp,omitempty"`
}

// FlaggedRate returns the share of flagged rows, 0 for an empty batch.
func (s Summary) FlaggedRate() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Flagged) / float64(s.Rows)
}

// BatchRecord is the persisted header of a batch.
type BatchRecord struct {
	ID         string    `json:"id"`
	Seed       uint64    `json:"seed"`
	Rows       int       `json:"rows"`
	Months     int       `json:"months"`
	AsOf       time.Time `json:"asOf"`
	CreatedAt  time.Time `json:"createdAt"`
	OutputPath string    `json:"outputPath,omitempty"`
	Summary    Summary   `json:"summary"`
}

// Record returns the persisted header for b.
func (b *Batch) Record(outputPath string) *BatchRecord {
	return &BatchRecord{
		ID:         b.ID,
		Seed:       b.Seed,
		Rows:       b.Rows,
		Months:     b.Months,
		AsOf:       b.AsOf,
		CreatedAt:  b.CreatedAt,
		OutputPath: outputPath,
		Summary:    b.Summary,
	}
}

// BatchRequest asks for a batch run. Zero fields fall back to the
// generator defaults.
type BatchRequest struct {
	RequestID string     `json:"requestId"`
	Rows      *int       `json:"rows,omitempty"`
	Months    int        `json:"months,omitempty"`
	Seed      *uint64    `json:"seed,omitempty"`
	AsOf      *time.Time `json:"asOf,omitempty"`
}
