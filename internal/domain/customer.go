package domain

// RiskTier is the customer risk rating assigned at onboarding.
type RiskTier string

const (
	RiskLow    RiskTier = "Low"
	RiskMedium RiskTier = "Medium"
	RiskHigh   RiskTier = "High"
)

// AccountType distinguishes retail from corporate accounts.
type AccountType string

const (
	AccountPersonal AccountType = "Personal"
	AccountBusiness AccountType = "Business"
)

// Onboarding outcomes that make a customer eligible to originate transactions.
const (
	DecisionApproved     = "Approved"
	DecisionManualReview = "Manual Review"
)

// Customer is an onboarded customer. Read-only once loaded.
type Customer struct {
	ID               string      `json:"customerId"`
	ResidencyCountry string      `json:"residencyCountry"`
	RiskTier         RiskTier    `json:"riskTier"`
	AccountType      AccountType `json:"accountType"`
	PEP              bool        `json:"pep"`
	DeviceCount      int         `json:"deviceCount"`
	Decision         string      `json:"onboardingDecision"`
}

// Eligible reports whether the onboarding outcome admits the customer
// into the transacting population.
func (c *Customer) Eligible() bool {
	return c.Decision == DecisionApproved || c.Decision == DecisionManualReview
}
