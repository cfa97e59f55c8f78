package validation

// Summary holds the counts shared by entity and relationship summaries.
type Summary struct {
	Total    int `json:"total" yaml:"total"`
	Valid    int `json:"valid" yaml:"valid"`
	Invalid  int `json:"invalid" yaml:"invalid"`
	Errors   int `json:"errors" yaml:"errors"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Infos    int `json:"infos" yaml:"infos"`
}

// EntitySummary aggregates entity results.
type EntitySummary struct {
	Summary `yaml:",inline"`
}

// RelationshipSummary aggregates relationship results.
type RelationshipSummary struct {
	Summary `yaml:",inline"`
	Flagged int `json:"flagged_for_review" yaml:"flagged_for_review"`
}

func (s *Summary) add(valid bool, issues []Issue) {
	s.Total++
	if valid {
		s.Valid++
	} else {
		s.Invalid++
	}
	s.Errors += countSeverity(issues, SeverityError)
	s.Warnings += countSeverity(issues, SeverityWarning)
	s.Infos += countSeverity(issues, SeverityInfo)
}

// SummarizeEntities counts entity verdicts and issues.
func SummarizeEntities(results []EntityResult) EntitySummary {
	var s EntitySummary
	for _, r := range results {
		s.add(r.IsValid, r.Issues)
	}
	return s
}

// SummarizeRelationships counts relationship verdicts, issues and
// review flags.
func SummarizeRelationships(results []RelationshipResult) RelationshipSummary {
	var s RelationshipSummary
	for _, r := range results {
		s.add(r.IsValid, r.Issues)
		if r.ShouldFlagForReview {
			s.Flagged++
		}
	}
	return s
}
