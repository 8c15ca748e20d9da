package population

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/rng"
)

// StreamCustomers is the random stream of the customer generator.
const StreamCustomers rng.Stream = 0x43555354

// Screening results and KYC statuses assigned at onboarding.
const (
	ScreeningClear     = "Clear"
	ScreeningPotential = "Potential Match"
	ScreeningHit       = "Confirmed Hit"

	KYCVerified = "Verified"
	KYCPending  = "Pending"
	KYCRejected = "Rejected"

	DecisionRejected = "Rejected"
)

// Extra columns written by the generator. Load ignores them.
const (
	ColJurisdiction = "jurisdiction_risk"
	ColOccupation   = "occupation"
	ColFunds        = "source_of_funds"
	ColScreening    = "screening_result"
	ColJoinDate     = "join_date"
	ColKYC          = "kyc_status"
)

// Jurisdictions maps each jurisdiction risk tier to its residency countries.
var Jurisdictions = map[domain.RiskTier][]string{
	domain.RiskLow: {
		"Andorra", "Austria", "Belgium", "Bosnia and Herzegovina", "Bulgaria", "Czech Republic",
		"Denmark", "Estonia", "Finland", "France", "Greece", "Iceland", "Ireland", "Kosovo", "Latvia",
		"Liechtenstein", "Lithuania", "Luxembourg", "Monaco", "Montenegro", "North Macedonia",
		"Norway", "Poland", "Portugal", "San Marino", "Slovakia", "Slovenia", "Spain", "Sweden",
		"Switzerland", "Vatican City", "United Kingdom", "Gibraltar", "Guernsey", "Jersey", "Isle of Man",
		"Canada", "Chile", "Uruguay", "Armenia", "Brunei", "Israel", "South Korea", "Taiwan", "Australia",
		"Norfolk Island", "New Zealand", "Cook Islands", "Niue", "New Caledonia", "French Polynesia",
		"Bermuda", "Cayman Islands", "British Virgin Islands", "Puerto Rico", "Guam", "American Samoa",
		"Northern Mariana Islands",
	},
	domain.RiskMedium: {
		"Croatia", "Cyprus", "Germany", "Hungary", "Italy", "Malta", "Moldova", "Romania", "Serbia",
		"Ukraine", "Netherlands", "Aruba", "Curaçao", "Sint Maarten", "United States", "Mexico", "Argentina",
		"Brazil", "Colombia", "Peru", "Paraguay", "Ecuador", "Bolivia", "Panama", "Costa Rica", "Guatemala",
		"Honduras", "Dominican Republic", "Jamaica", "Bahamas", "Barbados", "Guyana", "Botswana", "Egypt",
		"Ethiopia", "Ghana", "Lesotho", "Malawi", "Mauritius", "Morocco", "Namibia", "Rwanda", "Senegal",
		"Seychelles", "South Africa", "Tunisia", "Uganda", "Zambia", "Zimbabwe", "Azerbaijan", "Bahrain",
		"Bangladesh", "Georgia", "India", "Indonesia", "Japan", "Jordan", "Kazakhstan", "Kyrgyzstan",
		"Lebanon", "Malaysia", "Maldives", "Mongolia", "Oman", "Pakistan", "Philippines", "Qatar",
		"Saudi Arabia", "Singapore", "Sri Lanka", "Turkey", "United Arab Emirates", "Uzbekistan",
		"Hong Kong SAR", "Macau SAR", "Fiji", "Samoa", "Tonga", "Vanuatu", "Papua New Guinea", "Palau",
		"Micronesia", "Marshall Islands", "Timor-Leste",
	},
	domain.RiskHigh: {
		"Algeria", "Cameroon", "Côte d’Ivoire", "Kenya", "Madagascar", "Mozambique", "Nigeria", "Tanzania",
		"Cambodia", "China", "Kuwait", "Laos", "Nepal", "Tajikistan", "Vietnam", "Solomon Islands",
	},
}

// Occupations maps each occupation risk tier to its occupations.
var Occupations = map[domain.RiskTier][]string{
	domain.RiskLow:    {"Teacher", "Engineer", "Doctor", "Civil Servant", "Nurse", "Software Developer"},
	domain.RiskMedium: {"Real Estate Agent", "Importer/Exporter", "Consultant", "Crypto Trader", "Freelancer"},
	domain.RiskHigh:   {"Used Car Dealer", "Pawn Broker", "Nightclub Owner", "Cash Courier"},
}

var (
	tiers        = []domain.RiskTier{domain.RiskLow, domain.RiskMedium, domain.RiskHigh}
	tierWeights  = []float64{0.6, 0.3, 0.1}
	occWeights   = []float64{0.5, 0.3, 0.2}
	accounts     = []domain.AccountType{domain.AccountPersonal, domain.AccountBusiness}
	accWeights   = []float64{0.85, 0.15}
	funds        = []string{"Salary", "Business Revenue", "Savings", "Inheritance", "Crypto", "Cash"}
	fundWeights  = []float64{0.6, 0.2, 0.1, 0.05, 0.03, 0.02}
	devWeights   = []float64{0.5, 0.25, 0.15, 0.07, 0.03}
	kycStatuses  = []string{KYCVerified, KYCPending, KYCRejected}
	kycWeights   = []float64{0.9, 0.05, 0.05}
	tierScore    = map[domain.RiskTier]int{domain.RiskLow: 0, domain.RiskMedium: 1, domain.RiskHigh: 2}
	fundScore    = map[string]int{"Crypto": 2, "Cash": 2, "Business Revenue": 1, "Inheritance": 1}
	pepRate      = 0.02
	potentialHit = 0.05
)

// Profile is one generated onboarding record.
type Profile struct {
	domain.Customer
	Jurisdiction domain.RiskTier
	Occupation   string
	Funds        string
	Screening    string
	JoinDate     time.Time
	KYCStatus    string
}

// GenerateOptions controls the customer generator.
type GenerateOptions struct {
	Count int
	Seed  uint64
	// AsOf anchors join dates, which fall in the three years before it.
	AsOf time.Time
}

// Generate draws opts.Count onboarding records and keeps those whose
// decision admits them to the population. Equal options give equal output.
func Generate(opts GenerateOptions) ([]Profile, error) {
	if opts.Count < 0 {
		return nil, fmt.Errorf("count must be >= 0, got %d", opts.Count)
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		return nil, fmt.Errorf("as-of is required")
	}
	asOf = asOf.UTC().Truncate(24 * time.Hour)

	r := rng.New(opts.Seed, StreamCustomers)
	ids := rng.Reader{R: rng.New(opts.Seed, rng.StreamIDs)}

	out := make([]Profile, 0, opts.Count)
	for range opts.Count {
		p, err := profile(r, ids, asOf)
		if err != nil {
			return nil, err
		}
		if p.Eligible() {
			out = append(out, p)
		}
	}
	return out, nil
}

func profile(r *rand.Rand, ids io.Reader, asOf time.Time) (Profile, error) {
	jur := tiers[pick(r, tierWeights)]
	countries := Jurisdictions[jur]
	country := countries[r.IntN(len(countries))]
	account := accounts[pick(r, accWeights)]

	occTier := tiers[pick(r, occWeights)]
	occs := Occupations[occTier]
	occ := occs[r.IntN(len(occs))]
	fund := funds[pick(r, fundWeights)]

	pep := r.Float64() < pepRate
	screening := ScreeningHit
	if !pep {
		screening = ScreeningClear
		if r.Float64() < potentialHit {
			screening = ScreeningPotential
		}
	}
	devices := pick(r, devWeights) + 1
	join := asOf.AddDate(0, 0, -r.IntN(3*365+1))
	kyc := kycStatuses[pick(r, kycWeights)]

	id, err := uuid.NewRandomFromReader(ids)
	if err != nil {
		return Profile{}, err
	}

	risk := Score(jur, account, occTier, fund, pep, devices)
	return Profile{
		Customer: domain.Customer{
			ID:               id.String(),
			ResidencyCountry: country,
			RiskTier:         risk,
			AccountType:      account,
			PEP:              pep,
			DeviceCount:      devices,
			Decision:         Decide(kyc, risk, screening),
		},
		Jurisdiction: jur,
		Occupation:   occ,
		Funds:        fund,
		Screening:    screening,
		JoinDate:     join,
		KYCStatus:    kyc,
	}, nil
}

// Score rates a customer from onboarding attributes. Points add up per
// attribute; up to 2 is Low, up to 5 Medium, above that High.
func Score(jurisdiction domain.RiskTier, account domain.AccountType, occupation domain.RiskTier, funds string, pep bool, devices int) domain.RiskTier {
	score := tierScore[jurisdiction] + tierScore[occupation] + fundScore[funds]
	if account == domain.AccountBusiness {
		score += 2
	}
	if pep {
		score += 2
	}
	switch {
	case devices == 2:
		score++
	case devices > 2:
		score += 2
	}

	switch {
	case score <= 2:
		return domain.RiskLow
	case score <= 5:
		return domain.RiskMedium
	}
	return domain.RiskHigh
}

// Decide returns the onboarding decision. A rejected KYC check always
// rejects; high risk or any screening hit sends the customer to review.
func Decide(kyc string, risk domain.RiskTier, screening string) string {
	switch {
	case kyc == KYCRejected:
		return DecisionRejected
	case risk == domain.RiskHigh || screening != ScreeningClear:
		return domain.DecisionManualReview
	}
	return domain.DecisionApproved
}

func pick(r *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	x := r.Float64() * total
	for i, w := range weights {
		if x < w {
			return i
		}
		x -= w
	}
	return len(weights) - 1
}

// WriteCSV writes profiles with the population columns first.
func WriteCSV(w io.Writer, profiles []Profile) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, RequiredColumns...),
		ColJurisdiction, ColOccupation, ColFunds, ColScreening, ColJoinDate, ColKYC)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range profiles {
		p := &profiles[i]
		pep := "False"
		if p.PEP {
			pep = "True"
		}
		record := []string{
			p.ID,
			p.ResidencyCountry,
			string(p.RiskTier),
			string(p.AccountType),
			pep,
			strconv.Itoa(p.DeviceCount),
			p.Decision,
			string(p.Jurisdiction),
			p.Occupation,
			p.Funds,
			p.Screening,
			p.JoinDate.Format(time.DateOnly),
			p.KYCStatus,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes profiles to path, creating parent directories.
func WriteFile(path string, profiles []Profile) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &domain.SerializationError{Destination: path, Err: err}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := WriteCSV(f, profiles); err != nil {
		f.Close()
		return &domain.SerializationError{Destination: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.SerializationError{Destination: path, Err: err}
	}
	return nil
}
