// Package synth turns sampled customers into raw transactions.
package synth

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/population"
	"github.com/opensource-finance/fincrime-signals/internal/rng"
)

const (
	daysPerMonth  = 30
	secondsPerDay = 86400
	idPrefix      = "TX"
	idLength      = 12
)

// Config controls a synthesizer.
type Config struct {
	// Months is the length of the time window, 30 days each.
	Months int

	// AsOf is the end of the window. Truncated to seconds, in UTC.
	AsOf time.Time

	// Tables overrides the default categorical distributions.
	Tables *Tables
}

// Synthesizer produces transactions for one run. Not safe for concurrent use.
type Synthesizer struct {
	tables    Tables
	countries []string

	now   time.Time
	start time.Time
	span  int64

	destinations map[string]*destinationSet
	pools        map[string][]string
	ids          map[string]bool
}

type destinationSet struct {
	others   []string
	highRisk []string
}

// New builds a synthesizer for one run over pop.
func New(pop *population.Population, cfg Config) (*Synthesizer, error) {
	if pop == nil {
		return nil, domain.NewGenerationError(domain.StageSynthesis, nil, "nil population")
	}
	if cfg.Months < 1 {
		return nil, domain.NewGenerationError(domain.StageSynthesis, nil, "months must be at least 1, got %d", cfg.Months)
	}
	if cfg.AsOf.IsZero() {
		return nil, domain.NewGenerationError(domain.StageSynthesis, nil, "as-of instant is required")
	}

	tables := DefaultTables()
	if cfg.Tables != nil {
		tables = *cfg.Tables
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}

	now := cfg.AsOf.UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(daysPerMonth*cfg.Months) * secondsPerDay * time.Second)

	return &Synthesizer{
		tables:       tables,
		countries:    pop.Countries(),
		now:          now,
		start:        start,
		span:         int64(now.Sub(start) / time.Second),
		destinations: make(map[string]*destinationSet),
		pools:        make(map[string][]string),
		ids:          make(map[string]bool),
	}, nil
}

// Window returns the start of the time window and the as-of instant.
func (s *Synthesizer) Window() (time.Time, time.Time) {
	return s.start, s.now
}

// Synthesize builds one transaction per sampled customer, in order. Field
// draws come from r and transaction ids from ids.
func (s *Synthesizer) Synthesize(ctx context.Context, r, ids *rand.Rand, customers []*domain.Customer) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0, len(customers))
	for i, c := range customers {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, domain.NewGenerationError(domain.StageSynthesis, err, "cancelled after %d rows", i)
			}
		}
		tx, err := s.transaction(r, ids, c)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Synthesizer) transaction(r, ids *rand.Rand, c *domain.Customer) (domain.Transaction, error) {
	dest, cross := s.destination(r, c)
	currency := s.currency(r, c.ResidencyCountry)

	amount, err := s.amount(r, c.AccountType)
	if err != nil {
		return domain.Transaction{}, err
	}

	channel := s.tables.Channel.Draw(r)
	txType := s.tables.Type.Draw(r)

	cash := false
	if txType == domain.TxDeposit || txType == domain.TxWithdrawal {
		p := cashProbOther
		if c.AccountType == domain.AccountPersonal {
			p = cashProbPersonal
		}
		cash = r.Float64() < p
	}

	pool := s.devicePool(c)
	device := pool[r.IntN(len(pool))]

	ts := s.timestamp(r)
	counterparty := s.tables.Counterparty.Draw(r)

	id, err := s.transactionID(ids)
	if err != nil {
		return domain.Transaction{}, err
	}

	return domain.Transaction{
		ID:                 id,
		CustomerID:         c.ID,
		Timestamp:          ts,
		Amount:             amount,
		Currency:           currency,
		OriginCountry:      c.ResidencyCountry,
		DestinationCountry: dest,
		Channel:            channel,
		Type:               txType,
		CounterpartyType:   counterparty,
		CrossBorder:        cross,
		Cash:               cash,
		DeviceID:           device,
	}, nil
}

func (s *Synthesizer) destinationsFor(origin string) *destinationSet {
	if d, ok := s.destinations[origin]; ok {
		return d
	}
	d := &destinationSet{}
	for _, country := range s.countries {
		if country == origin {
			continue
		}
		d.others = append(d.others, country)
		if domain.HighRiskCountries[country] {
			d.highRisk = append(d.highRisk, country)
		}
	}
	s.destinations[origin] = d
	return d
}

// destination draws the destination country. When no other country exists
// the transaction stays domestic even if the cross-border draw succeeded.
func (s *Synthesizer) destination(r *rand.Rand, c *domain.Customer) (string, bool) {
	origin := c.ResidencyCountry
	if r.Float64() >= crossBorderProb.of(c.RiskTier) {
		return origin, false
	}

	d := s.destinationsFor(origin)
	if r.Float64() < highRiskBias.of(c.RiskTier) && len(d.highRisk) > 0 {
		return d.highRisk[r.IntN(len(d.highRisk))], true
	}
	if len(d.others) > 0 {
		return d.others[r.IntN(len(d.others))], true
	}
	return origin, false
}

func (s *Synthesizer) currency(r *rand.Rand, origin string) string {
	switch {
	case usTerritories[origin]:
		return domain.CurrencyUSD
	case ukTerritories[origin]:
		return domain.CurrencyGBP
	}
	return s.tables.Currency.Draw(r)
}

func (s *Synthesizer) amount(r *rand.Rand, account domain.AccountType) (decimal.Decimal, error) {
	dist := amountDefault
	if account == domain.AccountBusiness {
		dist = amountBusiness
	}

	v := math.Exp(dist.mu+dist.sigma*r.NormFloat64()) / amountScale
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return decimal.Zero, domain.NewGenerationError(domain.StageSynthesis, nil, "amount draw %v is not a positive finite number", v)
	}
	v = math.Min(v, amountCap)

	amount := decimal.NewFromFloat(v).Round(2)
	if !amount.IsPositive() {
		amount = decimal.New(1, -2)
	}
	return amount, nil
}

// devicePool returns the device ids of a customer, built once per run.
func (s *Synthesizer) devicePool(c *domain.Customer) []string {
	if pool, ok := s.pools[c.ID]; ok {
		return pool
	}
	pool := DevicePool(c.ID, c.DeviceCount)
	s.pools[c.ID] = pool
	return pool
}

// DevicePool builds the ordered device pool for a customer.
func DevicePool(customerID string, deviceCount int) []string {
	n := clampDevices(deviceCount)
	prefix := customerID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	pool := make([]string, n)
	for i := range pool {
		pool[i] = prefix + "-dev-" + strconv.Itoa(i+1)
	}
	r := rng.ForKey(customerID)
	r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool
}

func clampDevices(n int) int {
	return min(max(n, minDevices), maxDevices)
}

// timestamp squares a uniform draw before scaling it into the window, so
// density is highest at the window start, then adds an intra-day offset.
func (s *Synthesizer) timestamp(r *rand.Rand) time.Time {
	u := r.Float64()
	offset := int64(math.Floor(u * u * float64(s.span)))
	offset += r.Int64N(secondsPerDay)
	return s.start.Add(time.Duration(offset) * time.Second)
}

func (s *Synthesizer) transactionID(ids *rand.Rand) (string, error) {
	reader := rng.Reader{R: ids}
	for {
		u, err := uuid.NewRandomFromReader(reader)
		if err != nil {
			return "", domain.NewGenerationError(domain.StageSynthesis, err, "cannot draw transaction id")
		}
		id := idPrefix + strings.ToUpper(u.String()[:idLength])
		if !s.ids[id] {
			s.ids[id] = true
			return id, nil
		}
	}
}
