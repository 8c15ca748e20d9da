// Package population loads the onboarded customer population.
package population

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// Column names of the customer file.
const (
	ColCustomerID = "customer_id"
	ColResidency  = "residency_country"
	ColRiskTier   = "risk_score"
	ColAccount    = "account_type"
	ColPEP        = "pep_flag"
	ColDevices    = "device_count"
	ColDecision   = "onboarding_decision"
)

// RequiredColumns must all be present in the header.
var RequiredColumns = []string{
	ColCustomerID,
	ColResidency,
	ColRiskTier,
	ColAccount,
	ColPEP,
	ColDevices,
	ColDecision,
}

// Population is the immutable set of eligible customers.
type Population struct {
	customers []domain.Customer
	index     map[string]int
	countries []string
}

// Load reads and filters the customer CSV at path.
func Load(path string) (*Population, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.PopulationError{Source: path, Reason: "customer file not found", Err: err}
		}
		return nil, &domain.PopulationError{Source: path, Reason: "cannot open customer file", Err: err}
	}
	defer f.Close()

	return Read(f, path)
}

// Read parses a customer table from r. source names r in errors.
func Read(r io.Reader, source string) (*Population, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &domain.PopulationError{Source: source, Reason: "customer file is empty"}
	}
	if err != nil {
		return nil, &domain.PopulationError{Source: source, Reason: "cannot read header", Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.PopulationError{
			Source: source,
			Reason: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}

	var customers []domain.Customer
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &domain.PopulationError{Source: source, Reason: fmt.Sprintf("line %d", line), Err: err}
		}

		get := func(col string) string {
			i := cols[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		c := domain.Customer{
			ID:               get(ColCustomerID),
			ResidencyCountry: get(ColResidency),
			RiskTier:         domain.RiskTier(get(ColRiskTier)),
			AccountType:      domain.AccountType(get(ColAccount)),
			PEP:              parseBool(get(ColPEP)),
			DeviceCount:      parseDeviceCount(get(ColDevices)),
			Decision:         get(ColDecision),
		}
		if !c.Eligible() {
			continue
		}
		if c.ID == "" {
			return nil, &domain.PopulationError{Source: source, Reason: fmt.Sprintf("line %d: empty customer_id", line)}
		}
		customers = append(customers, c)
	}

	return build(customers, source)
}

// New builds a population from already-eligible customers. Used by tests
// and by callers that source customers elsewhere.
func New(customers []domain.Customer) (*Population, error) {
	return build(customers, "memory")
}

func build(customers []domain.Customer, source string) (*Population, error) {
	if len(customers) == 0 {
		return nil, &domain.PopulationError{Source: source, Reason: "no onboarded customers found after filtering"}
	}

	p := &Population{
		customers: make([]domain.Customer, 0, len(customers)),
		index:     make(map[string]int, len(customers)),
	}
	seen := make(map[string]bool)
	for _, c := range customers {
		if _, dup := p.index[c.ID]; dup {
			return nil, &domain.PopulationError{Source: source, Reason: fmt.Sprintf("duplicate customer_id %q", c.ID)}
		}
		p.index[c.ID] = len(p.customers)
		p.customers = append(p.customers, c)
		if c.ResidencyCountry != "" && !seen[c.ResidencyCountry] {
			seen[c.ResidencyCountry] = true
			p.countries = append(p.countries, c.ResidencyCountry)
		}
	}

	sort.Strings(p.countries)
	return p, nil
}

// Len returns the number of eligible customers.
func (p *Population) Len() int {
	return len(p.customers)
}

// At returns the i-th customer in file order.
func (p *Population) At(i int) *domain.Customer {
	return &p.customers[i]
}

// Lookup finds a customer by id.
func (p *Population) Lookup(id string) (*domain.Customer, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return &p.customers[i], true
}

// IsPEP reports the PEP flag of a customer; unknown ids are not PEPs.
func (p *Population) IsPEP(id string) bool {
	c, ok := p.Lookup(id)
	return ok && c.PEP
}

// Countries returns the sorted, distinct residency countries. This is the
// destination universe for the synthesizer. The slice must not be modified.
func (p *Population) Countries() []string {
	return p.countries
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y", "t":
		return true
	}
	return false
}

func parseDeviceCount(v string) int {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return 1
}
