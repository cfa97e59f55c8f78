package validation

import (
	"fmt"
	"strings"
)

// Category is the closed set of concept categories.
type Category string

const (
	CategoryMethod    Category = "method"
	CategoryTechnique Category = "technique"
	CategoryDataset   Category = "dataset"
	CategoryMetric    Category = "metric"
	CategoryConcept   Category = "concept"
)

// Categories returns every category in declaration order.
func Categories() []Category {
	return []Category{CategoryMethod, CategoryTechnique, CategoryDataset, CategoryMetric, CategoryConcept}
}

// ParseCategory converts a raw category string. Matching ignores case and
// surrounding whitespace. Unknown values are an error.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown concept category %q", s)
}

// UnmarshalText makes decoded categories canonical and rejects unknown ones.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// RelationKind is the closed set of relationship kinds between two papers.
// The zero value, KindNone, means the model found no relationship.
type RelationKind string

const (
	KindNone       RelationKind = ""
	KindImprovesOn RelationKind = "improves_on"
	KindExtends    RelationKind = "extends"
	KindEvaluates  RelationKind = "evaluates"
	KindBuildsOn   RelationKind = "builds_on"
	KindAddresses  RelationKind = "addresses"
	KindCites      RelationKind = "cites"
)

// RelationKinds returns every non-empty kind in declaration order.
func RelationKinds() []RelationKind {
	return []RelationKind{KindImprovesOn, KindExtends, KindEvaluates, KindBuildsOn, KindAddresses, KindCites}
}

// ParseRelationKind converts a raw kind string. The empty string, "none"
// and "null" map to KindNone. Any other unknown value is an error, so a
// Relationship can never carry a kind missing from the keyword table.
func ParseRelationKind(s string) (RelationKind, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	switch raw {
	case "", "none", "null":
		return KindNone, nil
	}
	k := RelationKind(raw)
	if k.Known() {
		return k, nil
	}
	return KindNone, fmt.Errorf("unknown relationship kind %q", s)
}

// UnmarshalText decodes through ParseRelationKind, so a decoded kind is
// always canonical and "none" or "null" become KindNone.
func (k *RelationKind) UnmarshalText(b []byte) error {
	parsed, err := ParseRelationKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Known reports whether k is one of the declared non-empty kinds.
func (k RelationKind) Known() bool {
	_, ok := kindKeywords[k]
	return ok
}

// IsNone reports whether k is the "no relationship" value.
func (k RelationKind) IsNone() bool { return k == KindNone }

// kindKeywords holds the stems an explanation is expected to mention for
// each kind. Stems are matched as substrings of the case-folded text.
var kindKeywords = map[RelationKind][]string{
	KindImprovesOn: {"improve", "better", "faster", "enhance", "outperform", "superior"},
	KindExtends:    {"extend", "extension", "generaliz", "expand", "augment"},
	KindEvaluates:  {"evaluat", "benchmark", "compar", "measur", "experiment"},
	KindBuildsOn:   {"build", "based on", "leverag", "foundation", "inspired by"},
	KindAddresses:  {"address", "solv", "tackl", "overcom", "limitation"},
	KindCites:      {"cite", "citation", "reference", "mention", "related work"},
}

// Keywords returns a copy of the expected explanation stems for k.
// It returns nil for KindNone and unknown kinds.
func Keywords(k RelationKind) []string {
	kw := kindKeywords[k]
	if kw == nil {
		return nil
	}
	out := make([]string, len(kw))
	copy(out, kw)
	return out
}

// genericTerms are meta-terms that describe paper structure rather than
// a concrete concept.
var genericTerms = map[string]struct{}{
	"paper":           {},
	"this paper":      {},
	"work":            {},
	"this work":       {},
	"our work":        {},
	"study":           {},
	"method":          {},
	"methods":         {},
	"our method":      {},
	"proposed method": {},
	"approach":        {},
	"our approach":    {},
	"technique":       {},
	"model":           {},
	"our model":       {},
	"algorithm":       {},
	"system":          {},
	"framework":       {},
	"dataset":         {},
	"data":            {},
	"metric":          {},
	"result":          {},
	"results":         {},
	"experiment":      {},
	"experiments":     {},
	"concept":         {},
	"baseline":        {},
	"author":          {},
	"authors":         {},
}

// IsGenericTerm reports whether name, trimmed and case-folded, is on the
// generic meta-term denylist.
func IsGenericTerm(name string) bool {
	_, ok := genericTerms[fold(strings.TrimSpace(name))]
	return ok
}

// PlaceholderExplanation is the sentinel written when the model returns
// no explanation.
const PlaceholderExplanation = "No explanation provided"
