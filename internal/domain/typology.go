package domain

// AlertType names the typology a flagged transaction is attributed to.
// The empty value means the transaction was not flagged.
type AlertType string

const (
	AlertNone        AlertType = ""
	AlertCorridor    AlertType = "High-Risk Corridor"
	AlertStructuring AlertType = "Structuring"
	AlertVelocity    AlertType = "Velocity"
	AlertLayering    AlertType = "Layering"
	AlertPEPOffshore AlertType = "PEP-Offshore"
)

// AlertPriority is the attribution order: when several rules match, the
// first one listed here becomes the label.
var AlertPriority = []AlertType{
	AlertCorridor,
	AlertStructuring,
	AlertVelocity,
	AlertLayering,
	AlertPEPOffshore,
}

// Valid reports whether a is one of the six label values.
func (a AlertType) Valid() bool {
	if a == AlertNone {
		return true
	}
	for _, p := range AlertPriority {
		if a == p {
			return true
		}
	}
	return false
}

// HighRiskCountries is the jurisdiction set used by the corridor rule and
// by the synthesizer's biased destination draw.
var HighRiskCountries = map[string]bool{
	"Algeria":         true,
	"Cameroon":        true,
	"Côte d’Ivoire":   true,
	"Kenya":           true,
	"Madagascar":      true,
	"Mozambique":      true,
	"Nigeria":         true,
	"Tanzania":        true,
	"Cambodia":        true,
	"China":           true,
	"Kuwait":          true,
	"Laos":            true,
	"Nepal":           true,
	"Tajikistan":      true,
	"Vietnam":         true,
	"Solomon Islands": true,
}

// OffshoreCountries lists offshore and financial-center jurisdictions.
// Only the PEP-Offshore rule uses it.
var OffshoreCountries = map[string]bool{
	"Cayman Islands":         true,
	"British Virgin Islands": true,
	"Bermuda":                true,
	"Seychelles":             true,
	"Mauritius":              true,
	"Panama":                 true,
	"Cyprus":                 true,
	"Malta":                  true,
	"Gibraltar":              true,
	"Isle of Man":            true,
	"Guernsey":               true,
	"Jersey":                 true,
	"Aruba":                  true,
	"Curaçao":                true,
	"Sint Maarten":           true,
}
