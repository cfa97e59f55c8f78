package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Name length bounds, counted in runes after trimming.
const (
	MinNameLength = 2
	MaxNameLength = 100
)

// Entity is an extracted concept as seen by the validator.
type Entity struct {
	Name         string   `json:"name" yaml:"name"`
	Category     Category `json:"category" yaml:"category"`
	MentionCount int      `json:"mention_count" yaml:"mention_count"`
}

// EntityResult is the verdict for one entity.
type EntityResult struct {
	IsValid bool    `json:"is_valid" yaml:"is_valid"`
	Issues  []Issue `json:"issues" yaml:"issues"`
}

// entityRule inspects one aspect of an entity and its parent links.
type entityRule func(e Entity, links []WeightedItem) []Issue

// entityRules is evaluated in order; issue order in a result follows it.
var entityRules = []entityRule{
	checkGenericTerm,
	checkNameTooShort,
	checkNameTooLong,
	checkScoreRange,
	checkSuspiciousPerfect,
	checkMentionUndercount,
}

// ValidateEntity runs every entity rule and combines the findings. links
// are the entity's parent-paper relevance weights. The entity is valid
// when no rule reported an error.
func ValidateEntity(e Entity, links []WeightedItem) EntityResult {
	issues := []Issue{}
	for _, rule := range entityRules {
		issues = append(issues, rule(e, links)...)
	}
	return EntityResult{
		IsValid: !hasSeverity(issues, SeverityError),
		Issues:  issues,
	}
}

func checkGenericTerm(e Entity, _ []WeightedItem) []Issue {
	if !IsGenericTerm(e.Name) {
		return nil
	}
	return []Issue{{
		Severity:     SeverityError,
		Rule:         RuleGenericTerm,
		Message:      fmt.Sprintf("%q is a generic term, not a specific concept", strings.TrimSpace(e.Name)),
		Field:        "name",
		CurrentValue: e.Name,
		SuggestedFix: "replace with the specific method, dataset or metric name",
	}}
}

func checkNameTooShort(e Entity, _ []WeightedItem) []Issue {
	n := utf8.RuneCountInString(strings.TrimSpace(e.Name))
	if n >= MinNameLength {
		return nil
	}
	return []Issue{{
		Severity:     SeverityError,
		Rule:         RuleNameTooShort,
		Message:      fmt.Sprintf("name has %d characters, minimum is %d", n, MinNameLength),
		Field:        "name",
		CurrentValue: e.Name,
	}}
}

func checkNameTooLong(e Entity, _ []WeightedItem) []Issue {
	n := utf8.RuneCountInString(strings.TrimSpace(e.Name))
	if n <= MaxNameLength {
		return nil
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleNameTooLong,
		Message:      fmt.Sprintf("name has %d characters, maximum is %d", n, MaxNameLength),
		Field:        "name",
		CurrentValue: e.Name,
		SuggestedFix: "shorten to the canonical concept name",
	}}
}

func checkScoreRange(_ Entity, links []WeightedItem) []Issue {
	var issues []Issue
	for i, l := range links {
		if inUnitRange(l.Weight) {
			continue
		}
		issues = append(issues, Issue{
			Severity:     SeverityError,
			Rule:         RuleScoreOutOfRange,
			Message:      fmt.Sprintf("relevance %v for paper %d is outside [0, 1]", l.Weight, l.ID),
			Field:        fmt.Sprintf("links[%d].weight", i),
			CurrentValue: l.Weight,
			SuggestedFix: "re-extract or clamp the relevance score",
		})
	}
	return issues
}

func checkSuspiciousPerfect(e Entity, links []WeightedItem) []Issue {
	if e.MentionCount != 1 {
		return nil
	}
	var issues []Issue
	for i, l := range links {
		if l.Weight != 1.0 {
			continue
		}
		issues = append(issues, Issue{
			Severity:     SeverityWarning,
			Rule:         RuleScoreSuspiciousPerfect,
			Message:      fmt.Sprintf("perfect relevance for paper %d on a single mention", l.ID),
			Field:        fmt.Sprintf("links[%d].weight", i),
			CurrentValue: l.Weight,
			SuggestedFix: "review the relevance score",
		})
	}
	return issues
}

// checkMentionUndercount flags a mention count below the number of
// distinct parent papers. An overcount is accepted.
func checkMentionUndercount(e Entity, links []WeightedItem) []Issue {
	parents := make(map[int64]struct{}, len(links))
	for _, l := range links {
		parents[l.ID] = struct{}{}
	}
	if e.MentionCount >= len(parents) {
		return nil
	}
	return []Issue{{
		Severity:     SeverityWarning,
		Rule:         RuleMentionUndercount,
		Message:      fmt.Sprintf("mention count %d is below the %d linked papers", e.MentionCount, len(parents)),
		Field:        "mention_count",
		CurrentValue: e.MentionCount,
		SuggestedFix: fmt.Sprintf("set mention_count to at least %d", len(parents)),
	}}
}
