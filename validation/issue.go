// Package validation scores and checks extracted concepts and paper
// relationships before they are trusted downstream.
//
// Every function in this package is pure. Results depend only on the
// arguments, so validators may be called concurrently without locking.
package validation

// Severity classifies an Issue. Only SeverityError invalidates a record.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule identifiers. They are stable and appear in reports and metrics.
const (
	RuleGenericTerm            = "generic-term"
	RuleNameTooShort           = "name-too-short"
	RuleNameTooLong            = "name-too-long"
	RuleScoreOutOfRange        = "score-out-of-range"
	RuleScoreSuspiciousPerfect = "score-suspicious-perfect"
	RuleMentionUndercount      = "mention-undercount"

	RuleSelfReference           = "self-reference"
	RuleConfidenceOutOfRange    = "confidence-out-of-range"
	RuleConfidenceLow           = "confidence-low"
	RuleConfidenceVeryLow       = "confidence-very-low"
	RuleTypeExplanationMismatch = "type-explanation-mismatch"
	RuleNullKindHighConfidence  = "null-kind-high-confidence"
	RuleNullKindLowConfidence   = "null-kind-low-confidence"
	RuleExplanationTooShort     = "explanation-too-short"
	RuleExplanationPlaceholder  = "explanation-placeholder"
)

// Issue is a single finding produced by a rule.
type Issue struct {
	Severity     Severity `json:"severity" yaml:"severity"`
	Rule         string   `json:"rule" yaml:"rule"`
	Message      string   `json:"message" yaml:"message"`
	Field        string   `json:"field,omitempty" yaml:"field,omitempty"`
	CurrentValue any      `json:"current_value,omitempty" yaml:"current_value,omitempty"`
	SuggestedFix string   `json:"suggested_fix,omitempty" yaml:"suggested_fix,omitempty"`
}

// hasSeverity reports whether any issue has the given severity.
func hasSeverity(issues []Issue, sev Severity) bool {
	for _, is := range issues {
		if is.Severity == sev {
			return true
		}
	}
	return false
}

// countSeverity returns how many issues have the given severity.
func countSeverity(issues []Issue, sev Severity) int {
	n := 0
	for _, is := range issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// inUnitRange reports whether v lies in [0, 1]. NaN is outside.
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
