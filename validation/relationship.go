package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Confidence thresholds for relationship checks.
const (
	LowConfidence     = 0.5
	VeryLowConfidence = 0.3
	// NullKindConfidence separates a suspicious "no relationship" verdict
	// from an expected one.
	NullKindConfidence = 0.5
	// MinExplanationLength is counted in runes after trimming.
	MinExplanationLength = 20
)

// Relationship is a directed relationship between two papers as seen by
// the validator.
type Relationship struct {
	SourceID    int64        `json:"source_id" yaml:"source_id"`
	TargetID    int64        `json:"target_id" yaml:"target_id"`
	Kind        RelationKind `json:"kind" yaml:"kind"`
	Confidence  float64      `json:"confidence" yaml:"confidence"`
	Explanation string       `json:"explanation" yaml:"explanation"`
}

// RelationshipResult is the verdict for one relationship.
type RelationshipResult struct {
	IsValid             bool    `json:"is_valid" yaml:"is_valid"`
	ShouldFlagForReview bool    `json:"should_flag_for_review" yaml:"should_flag_for_review"`
	Issues              []Issue `json:"issues" yaml:"issues"`
}

type relationshipRule func(r Relationship) []Issue

var relationshipRules = []relationshipRule{
	checkSelfReference,
	checkConfidenceRange,
	checkConfidenceLow,
	checkConfidenceVeryLow,
	checkKindExplanation,
	checkNullKind,
	checkExplanationLength,
	checkExplanationPlaceholder,
}

// Policy controls when a relationship is flagged for human review. It
// never changes which issues are produced or the validity verdict.
type Policy struct {
	// ReviewThreshold flags any relationship whose confidence is below it.
	ReviewThreshold float64 `json:"review_threshold" yaml:"review_threshold"`
	// ExemptFromReview lists warning rules that do not by themselves flag
	// a relationship.
	ExemptFromReview []string `json:"exempt_from_review,omitempty" yaml:"exempt_from_review,omitempty"`
}

// DefaultPolicy flags relationships below 0.5 confidence or carrying any
// warning.
func DefaultPolicy() Policy {
	return Policy{ReviewThreshold: LowConfidence}
}

// ValidateRelationship checks r under DefaultPolicy.
func ValidateRelationship(r Relationship) RelationshipResult {
	return DefaultPolicy().ValidateRelationship(r)
}

// ValidateRelationship runs every relationship rule in order and derives
// the validity and review verdicts.
func (p Policy) ValidateRelationship(r Relationship) RelationshipResult {
	issues := []Issue{}
	for _, rule := range relationshipRules {
		issues = append(issues, rule(r)...)
	}
	return RelationshipResult{
		IsValid:             !hasSeverity(issues, SeverityError),
		ShouldFlagForReview: p.flags(r, issues),
		Issues:              issues,
	}
}

func (p Policy) flags(r Relationship, issues []Issue) bool {
	if r.Confidence < p.ReviewThreshold {
		return true
	}
	for _, is := range issues {
		if is.Severity != SeverityWarning {
			continue
		}
		if !p.exempt(is.Rule) {
			return true
		}
	}
	return false
}

func (p Policy) exempt(rule string) bool {
	for _, r := range p.ExemptFromReview {
		if r == rule {
			return true
		}
	}
	return false
}

func checkSelfReference(r Relationship) []Issue {
	if r.SourceID != r.TargetID {
		return nil
	}
	return []Issue{{
		Severity:     SeverityError,
		Rule:         RuleSelfReference,
		Message:      fmt.Sprintf("paper %d is related to itself", r.SourceID),
		Field:        "target_id",
		CurrentValue: r.TargetID,
		SuggestedFix: "drop the relationship",
	}}
}

func checkConfidenceRange(r Relationship) []Issue {
	if inUnitRange(r.Confidence) {
		return nil
	}
	return []Issue{{
		Severity:     SeverityError,
		Rule:         RuleConfidenceOutOfRange,
		Message:      fmt.Sprintf("confidence %v is outside [0, 1]", r.Confidence),
		Field:        "confidence",
		CurrentValue: r.Confidence,
		SuggestedFix: "re-extract or clamp the confidence",
	}}
}

func checkConfidenceLow(r Relationship) []Issue {
	if !(r.Confidence >= 0 && r.Confidence < LowConfidence) {
		return nil
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleConfidenceLow,
		Message:      fmt.Sprintf("confidence %.2f is below %.1f", r.Confidence, LowConfidence),
		Field:        "confidence",
		CurrentValue: r.Confidence,
	}}
}

func checkConfidenceVeryLow(r Relationship) []Issue {
	if !(r.Confidence >= 0 && r.Confidence < VeryLowConfidence) {
		return nil
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleConfidenceVeryLow,
		Message:      fmt.Sprintf("confidence %.2f is below %.1f", r.Confidence, VeryLowConfidence),
		Field:        "confidence",
		CurrentValue: r.Confidence,
		SuggestedFix: "consider discarding the relationship",
	}}
}

// checkKindExplanation requires the explanation to mention at least one
// stem of the declared kind. A kind missing from the table has no stems
// and therefore always mismatches.
func checkKindExplanation(r Relationship) []Issue {
	if r.Kind.IsNone() {
		return nil
	}
	text := fold(r.Explanation)
	for _, kw := range kindKeywords[r.Kind] {
		if strings.Contains(text, kw) {
			return nil
		}
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleTypeExplanationMismatch,
		Message:      fmt.Sprintf("explanation does not support kind %q", r.Kind),
		Field:        "explanation",
		CurrentValue: r.Explanation,
		SuggestedFix: fmt.Sprintf("expected one of: %s", strings.Join(kindKeywords[r.Kind], ", ")),
	}}
}

func checkNullKind(r Relationship) []Issue {
	if !r.Kind.IsNone() {
		return nil
	}
	if r.Confidence > NullKindConfidence {
		return []Issue{{
			Severity:     SeverityWarning,
			Rule:         RuleNullKindHighConfidence,
			Message:      fmt.Sprintf("no relationship kind but confidence %.2f", r.Confidence),
			Field:        "confidence",
			CurrentValue: r.Confidence,
			SuggestedFix: "assign a kind or lower the confidence",
		}}
	}
	return []Issue{{
		Severity: SeverityInfo,
		Rule:     RuleNullKindLowConfidence,
		Message:  "no relationship found",
		Field:    "kind",
	}}
}

func checkExplanationLength(r Relationship) []Issue {
	n := utf8.RuneCountInString(strings.TrimSpace(r.Explanation))
	if n >= MinExplanationLength {
		return nil
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleExplanationTooShort,
		Message:      fmt.Sprintf("explanation has %d characters, minimum is %d", n, MinExplanationLength),
		Field:        "explanation",
		CurrentValue: r.Explanation,
	}}
}

func checkExplanationPlaceholder(r Relationship) []Issue {
	text := strings.TrimSpace(r.Explanation)
	if text != "" && text != PlaceholderExplanation {
		return nil
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleExplanationPlaceholder,
		Message:      "explanation is missing",
		Field:        "explanation",
		CurrentValue: r.Explanation,
		SuggestedFix: "re-run relationship discovery for this pair",
	}}
}
