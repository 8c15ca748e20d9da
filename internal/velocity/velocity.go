// Package velocity builds the per-customer time-window aggregates the
// alert rules join against: rows per calendar day, structuring candidates
// per calendar day, and cross-border destinations per 48-hour bucket.
package velocity

import (
	"time"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

const dayLayout = "2006-01-02"

// DayKey identifies a customer's UTC calendar day.
type DayKey struct {
	CustomerID string
	Day        string
}

// BucketKey identifies a customer's 48-hour bucket.
type BucketKey struct {
	CustomerID string
	Bucket     int64
}

// Aggregates holds grouped counts over one batch. Rows with a zero
// timestamp never enter any group.
type Aggregates struct {
	daily        map[DayKey]int
	structuring  map[DayKey]int
	destinations map[BucketKey]map[string]struct{}
}

// New returns empty aggregates sized for n rows.
func New(n int) *Aggregates {
	return &Aggregates{
		daily:        make(map[DayKey]int, n/4+1),
		structuring:  make(map[DayKey]int),
		destinations: make(map[BucketKey]map[string]struct{}),
	}
}

// Build aggregates txs in one pass. candidate reports whether row i passes
// the structuring row predicate; it may be nil.
func Build(txs []domain.Transaction, candidate func(i int) bool) *Aggregates {
	a := New(len(txs))
	for i := range txs {
		a.Add(&txs[i], candidate != nil && candidate(i))
	}
	return a
}

// Add folds one row into the aggregates.
func (a *Aggregates) Add(tx *domain.Transaction, structuringCandidate bool) {
	if tx.Timestamp.IsZero() {
		return
	}

	day := DayOf(tx.CustomerID, tx.Timestamp)
	a.daily[day]++
	if structuringCandidate {
		a.structuring[day]++
	}

	if tx.CrossBorder {
		key := BucketOf(tx.CustomerID, tx.Timestamp)
		dests, ok := a.destinations[key]
		if !ok {
			dests = make(map[string]struct{})
			a.destinations[key] = dests
		}
		dests[tx.DestinationCountry] = struct{}{}
	}
}

// DailyCount returns how many rows the customer has on the row's day.
func (a *Aggregates) DailyCount(tx *domain.Transaction) int {
	if tx.Timestamp.IsZero() {
		return 0
	}
	return a.daily[DayOf(tx.CustomerID, tx.Timestamp)]
}

// StructuringCount returns how many structuring candidates the customer has
// on the row's day.
func (a *Aggregates) StructuringCount(tx *domain.Transaction) int {
	if tx.Timestamp.IsZero() {
		return 0
	}
	return a.structuring[DayOf(tx.CustomerID, tx.Timestamp)]
}

// DistinctDestinations returns how many distinct cross-border destinations
// the customer touched in the row's 48-hour bucket.
func (a *Aggregates) DistinctDestinations(tx *domain.Transaction) int {
	if tx.Timestamp.IsZero() {
		return 0
	}
	return len(a.destinations[BucketOf(tx.CustomerID, tx.Timestamp)])
}

// DayOf returns the customer's UTC calendar day key for ts.
func DayOf(customerID string, ts time.Time) DayKey {
	return DayKey{CustomerID: customerID, Day: ts.UTC().Format(dayLayout)}
}

// BucketOf returns the customer's 48-hour bucket for ts. Buckets are aligned
// to the Unix epoch.
func BucketOf(customerID string, ts time.Time) BucketKey {
	sec := ts.Unix()
	b := sec / domain.LayeringBucketSeconds
	if sec < 0 && sec%domain.LayeringBucketSeconds != 0 {
		b--
	}
	return BucketKey{CustomerID: customerID, Bucket: b}
}
