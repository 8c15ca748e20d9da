package domain

import "strings"

// RuleSet is a bit set of matched rules, indexed by position in AlertPriority.
type RuleSet uint8

// RuleBit returns the bit for an alert type, or 0 for AlertNone and
// unknown values.
func RuleBit(a AlertType) RuleSet {
	for i, p := range AlertPriority {
		if p == a {
			return 1 << i
		}
	}
	return 0
}

// With returns s with a added.
func (s RuleSet) With(a AlertType) RuleSet {
	return s | RuleBit(a)
}

// Has reports whether a is in s.
func (s RuleSet) Has(a AlertType) bool {
	bit := RuleBit(a)
	return bit != 0 && s&bit != 0
}

// Primary returns the highest-priority member, or AlertNone for an empty set.
func (s RuleSet) Primary() AlertType {
	for i, p := range AlertPriority {
		if s&(1<<i) != 0 {
			return p
		}
	}
	return AlertNone
}

// Types lists the members in priority order.
func (s RuleSet) Types() []AlertType {
	var out []AlertType
	for i, p := range AlertPriority {
		if s&(1<<i) != 0 {
			out = append(out, p)
		}
	}
	return out
}

// String joins the members with "|" in priority order.
func (s RuleSet) String() string {
	types := s.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, "|")
}

// ParseRuleSet is the inverse of String. Unknown names are ignored.
func ParseRuleSet(v string) RuleSet {
	var s RuleSet
	if v == "" {
		return s
	}
	for _, part := range strings.Split(v, "|") {
		s = s.With(AlertType(part))
	}
	return s
}

// Rule thresholds.
const (
	StructuringMinAmount    = 9000.0
	StructuringMaxAmount    = 9999.99 // exclusive
	StructuringMinCount     = 4
	VelocityMinCount        = 15
	LayeringMinDestinations = 3
	LayeringBucketSeconds   = 48 * 60 * 60
)
