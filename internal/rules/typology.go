package rules

import (
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/velocity"
)

// rowMatch holds the row-level predicate results of one transaction.
type rowMatch struct {
	structuring bool
	corridor    bool
	pepOffshore bool
}

func buildAggregates(txs []domain.Transaction, rows []rowMatch) *velocity.Aggregates {
	return velocity.Build(txs, func(i int) bool { return rows[i].structuring })
}

// classify joins a row's predicates with the group aggregates and returns
// every alert typology the row matches.
//
// Structuring: the row is a candidate and its customer has at least
// StructuringMinCount candidates that day.
// Velocity: the customer has at least VelocityMinCount rows that day.
// Layering: the row is cross-border and its customer reached at least
// LayeringMinDestinations destinations in the row's 48-hour bucket.
func classify(tx *domain.Transaction, row rowMatch, agg *velocity.Aggregates) domain.RuleSet {
	var set domain.RuleSet

	if row.corridor {
		set = set.With(domain.AlertCorridor)
	}
	if row.structuring && agg.StructuringCount(tx) >= domain.StructuringMinCount {
		set = set.With(domain.AlertStructuring)
	}
	if agg.DailyCount(tx) >= domain.VelocityMinCount {
		set = set.With(domain.AlertVelocity)
	}
	if tx.CrossBorder && agg.DistinctDestinations(tx) >= domain.LayeringMinDestinations {
		set = set.With(domain.AlertLayering)
	}
	if row.pepOffshore {
		set = set.With(domain.AlertPEPOffshore)
	}

	return set
}
