package synth

import (
	"math"
	"math/rand/v2"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// Categorical is a weighted table of string outcomes.
type Categorical struct {
	Values  []string
	Weights []float64
	cdf     []float64
}

// Validate checks the table and prepares it for drawing.
func (c *Categorical) Validate(name string) error {
	if len(c.Values) == 0 {
		return domain.NewGenerationError(domain.StageSynthesis, nil, "table %s is empty", name)
	}
	if len(c.Values) != len(c.Weights) {
		return domain.NewGenerationError(domain.StageSynthesis, nil,
			"table %s has %d values and %d weights", name, len(c.Values), len(c.Weights))
	}
	cdf := make([]float64, len(c.Weights))
	total := 0.0
	for i, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return domain.NewGenerationError(domain.StageSynthesis, nil, "table %s: invalid weight %v for %q", name, w, c.Values[i])
		}
		total += w
		cdf[i] = total
	}
	if total <= 0 {
		return domain.NewGenerationError(domain.StageSynthesis, nil, "table %s: weights sum to %v", name, total)
	}
	for i := range cdf {
		cdf[i] /= total
	}
	cdf[len(cdf)-1] = 1
	c.cdf = cdf
	return nil
}

// Draw picks one value. The table must have been validated.
func (c *Categorical) Draw(r *rand.Rand) string {
	u := r.Float64()
	for i, p := range c.cdf {
		if u < p {
			return c.Values[i]
		}
	}
	return c.Values[len(c.Values)-1]
}

// Tables groups every weighted table the synthesizer draws from.
type Tables struct {
	Currency     Categorical
	Channel      Categorical
	Type         Categorical
	Counterparty Categorical
}

// DefaultTables returns the standard distributions.
func DefaultTables() Tables {
	return Tables{
		Currency: Categorical{
			Values:  []string{domain.CurrencyEUR, domain.CurrencyUSD, domain.CurrencyGBP},
			Weights: []float64{0.55, 0.35, 0.10},
		},
		Channel: Categorical{
			Values:  []string{"Online", "Mobile", "ATM", "Branch", "API", "POS"},
			Weights: []float64{0.45, 0.30, 0.05, 0.05, 0.10, 0.05},
		},
		Type: Categorical{
			Values:  []string{domain.TxTransfer, domain.TxPayment, domain.TxDeposit, domain.TxWithdrawal, domain.TxBillPayment},
			Weights: []float64{0.55, 0.20, 0.15, 0.05, 0.05},
		},
		Counterparty: Categorical{
			Values:  []string{"Individual", "Business", "Exchange"},
			Weights: []float64{0.6, 0.3, 0.1},
		},
	}
}

func (t *Tables) validate() error {
	for _, c := range []struct {
		name string
		tab  *Categorical
	}{
		{"currency", &t.Currency},
		{"channel", &t.Channel},
		{"transaction_type", &t.Type},
		{"counterparty_type", &t.Counterparty},
	} {
		if err := c.tab.Validate(c.name); err != nil {
			return err
		}
	}
	return nil
}

// tierProb is a probability per risk tier with a fallback for unknown tiers.
type tierProb struct {
	low, medium, high, unknown float64
}

func (p tierProb) of(t domain.RiskTier) float64 {
	switch t {
	case domain.RiskLow:
		return p.low
	case domain.RiskMedium:
		return p.medium
	case domain.RiskHigh:
		return p.high
	}
	return p.unknown
}

var (
	crossBorderProb = tierProb{low: 0.25, medium: 0.45, high: 0.65, unknown: 0.35}
	highRiskBias    = tierProb{low: 0.10, medium: 0.20, high: 0.35, unknown: 0.15}
)

// Cash probability for Deposit and Withdrawal rows.
const (
	cashProbPersonal = 0.20
	cashProbOther    = 0.08
)

type lognormal struct {
	mu, sigma float64
}

var (
	amountBusiness = lognormal{mu: 8.0, sigma: 0.8}
	amountDefault  = lognormal{mu: 7.2, sigma: 0.7}
)

// Amount bounds.
const (
	amountScale = 100.0
	amountCap   = 250000.0
)

// Max devices per customer.
const (
	minDevices = 1
	maxDevices = 5
)

var usTerritories = map[string]bool{
	"United States":            true,
	"Puerto Rico":              true,
	"Guam":                     true,
	"American Samoa":           true,
	"Northern Mariana Islands": true,
}

var ukTerritories = map[string]bool{
	"United Kingdom": true,
	"Gibraltar":      true,
	"Guernsey":       true,
	"Jersey":         true,
	"Isle of Man":    true,
}
