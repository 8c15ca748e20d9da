// Package rules provides the CEL-Go based alert rule engine.
package rules

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// Row predicate names. Structuring is only the per-row half of the rule;
// the same-day count is joined in later.
const (
	PredicateStructuring = "structuring_candidate"
	PredicateCorridor    = "high_risk_corridor"
	PredicatePEPOffshore = "pep_offshore"
)

// predicates returns the CEL expressions of the row predicates.
func predicates() map[string]string {
	return map[string]string{
		PredicateStructuring: fmt.Sprintf(
			`amount >= %.2f && amount < %.2f && tx_type in ["Deposit", "Transfer"] && currency in ["USD", "EUR", "GBP"]`,
			domain.StructuringMinAmount, domain.StructuringMaxAmount),
		PredicateCorridor:    `is_cross_border && destination in high_risk_countries`,
		PredicatePEPOffshore: `pep && is_cross_border && destination in offshore_countries`,
	}
}

// Engine evaluates the alert rules over a batch of transactions.
// Programs are compiled once; an Engine is safe for concurrent use.
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program
	highRisk []string
	offshore []string
}

// PEPLookup reports whether a customer is a politically exposed person.
type PEPLookup func(customerID string) bool

// NewEngine compiles the row predicates. The rules are fixed; only their
// thresholds in package domain parameterize them.
func NewEngine() (*Engine, error) {
	return compileEngine(predicates())
}

func compileEngine(exprs map[string]string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("destination", cel.StringType),
		cel.Variable("is_cross_border", cel.BoolType),
		cel.Variable("is_cash", cel.BoolType),
		cel.Variable("pep", cel.BoolType),
		cel.Variable("high_risk_countries", cel.ListType(cel.StringType)),
		cel.Variable("offshore_countries", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, domain.NewGenerationError(domain.StageEvaluation, err, "failed to create CEL environment")
	}

	e := &Engine{
		env:      env,
		programs: make(map[string]cel.Program, len(exprs)),
		highRisk: sortedKeys(domain.HighRiskCountries),
		offshore: sortedKeys(domain.OffshoreCountries),
	}
	for name, expr := range exprs {
		program, err := e.compile(name, expr)
		if err != nil {
			return nil, err
		}
		e.programs[name] = program
	}
	return e, nil
}

func (e *Engine) compile(name, expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, domain.NewGenerationError(domain.StageEvaluation, issues.Err(), "failed to compile predicate %s", name)
	}

	if ast.OutputType() != cel.BoolType {
		return nil, domain.NewGenerationError(domain.StageEvaluation, nil,
			"predicate %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, domain.NewGenerationError(domain.StageEvaluation, err, "failed to create program for predicate %s", name)
	}
	return program, nil
}

// Result reports what one evaluation pass did.
type Result struct {
	Evaluated int
	// Skipped rows had a zero timestamp and were left unflagged.
	Skipped int
	// EvalErrors counts predicate evaluations that failed and were treated
	// as no match.
	EvalErrors int
}

// Evaluate labels txs in place. Every row gets Matches and AlertType set;
// rows with a zero timestamp get neither. pep may be nil, in which case no
// customer is a PEP.
func (e *Engine) Evaluate(txs []domain.Transaction, pep PEPLookup) Result {
	var res Result
	rows := make([]rowMatch, len(txs))

	for i := range txs {
		tx := &txs[i]
		if tx.Timestamp.IsZero() {
			continue
		}
		activation := e.activation(tx, pep != nil && pep(tx.CustomerID))
		rows[i] = rowMatch{
			structuring: e.match(PredicateStructuring, activation, &res),
			corridor:    e.match(PredicateCorridor, activation, &res),
			pepOffshore: e.match(PredicatePEPOffshore, activation, &res),
		}
	}

	agg := buildAggregates(txs, rows)

	for i := range txs {
		tx := &txs[i]
		if tx.Timestamp.IsZero() {
			tx.Matches = 0
			tx.AlertType = domain.AlertNone
			res.Skipped++
			continue
		}
		tx.Matches = classify(tx, rows[i], agg)
		tx.AlertType = tx.Matches.Primary()
		res.Evaluated++
	}
	return res
}

func (e *Engine) match(name string, activation map[string]any, res *Result) bool {
	out, _, err := e.programs[name].Eval(activation)
	if err != nil {
		res.EvalErrors++
		return false
	}
	return out == types.True
}

func (e *Engine) activation(tx *domain.Transaction, pep bool) map[string]any {
	amount, _ := tx.Amount.Float64()
	return map[string]any{
		"amount":              amount,
		"currency":            tx.Currency,
		"tx_type":             tx.Type,
		"channel":             tx.Channel,
		"customer_id":         tx.CustomerID,
		"origin":              tx.OriginCountry,
		"destination":         tx.DestinationCountry,
		"is_cross_border":     tx.CrossBorder,
		"is_cash":             tx.Cash,
		"pep":                 pep,
		"high_risk_countries": e.highRisk,
		"offshore_countries":  e.offshore,
	}
}

// Predicates returns the names of the compiled predicates, sorted.
func (e *Engine) Predicates() []string {
	names := make([]string, 0, len(e.programs))
	for name := range e.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
