// Package report runs the consistency validator over a store snapshot and
// exports the results as JSON, YAML, CSV or XLSX.
package report

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

// RuleUnknownKind marks a stored relationship whose kind is not in the
// closed kind set. The validator never sees such a record.
const RuleUnknownKind = "unknown-relationship-kind"

// EntityRecord is one validated concept.
type EntityRecord struct {
	ConceptID    int64  `json:"concept_id" yaml:"concept_id"`
	Name         string `json:"name" yaml:"name"`
	Category     string `json:"category" yaml:"category"`
	MentionCount int    `json:"mention_count" yaml:"mention_count"`
	Papers       int    `json:"papers" yaml:"papers"`

	validation.EntityResult `yaml:",inline"`
}

// RelationshipRecord is one validated relationship.
type RelationshipRecord struct {
	RelationshipID int64   `json:"relationship_id" yaml:"relationship_id"`
	SourcePaperID  int64   `json:"source_paper_id" yaml:"source_paper_id"`
	TargetPaperID  int64   `json:"target_paper_id" yaml:"target_paper_id"`
	Kind           string  `json:"relationship_type" yaml:"relationship_type"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
	Explanation    string  `json:"explanation" yaml:"explanation"`
	Validated      bool    `json:"validated" yaml:"validated"`

	validation.RelationshipResult `yaml:",inline"`
}

// Report is the outcome of one validation run.
type Report struct {
	RunID               string                         `json:"run_id" yaml:"run_id"`
	GeneratedAt         time.Time                      `json:"generated_at" yaml:"generated_at"`
	Policy              validation.Policy              `json:"policy" yaml:"policy"`
	EntitySummary       validation.EntitySummary       `json:"entity_summary" yaml:"entity_summary"`
	RelationshipSummary validation.RelationshipSummary `json:"relationship_summary" yaml:"relationship_summary"`
	Entities            []EntityRecord                 `json:"entities" yaml:"entities"`
	Relationships       []RelationshipRecord           `json:"relationships" yaml:"relationships"`

	markable []int64
}

// Options configures Build.
type Options struct {
	// Policy decides review flags. Nil means validation.DefaultPolicy().
	Policy      *validation.Policy
	Concurrency int
	// OnlyIssues drops records without any issue from the report. The
	// summaries still count every record.
	OnlyIssues bool
}

// Build validates every concept and relationship in snap. Records keep
// the snapshot order.
func Build(ctx context.Context, snap *store.Snapshot, opts Options) (*Report, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	policy := validation.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	entities := make([]EntityRecord, len(snap.Concepts))
	rels := make([]RelationshipRecord, len(snap.Relationships))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, c := range snap.Concepts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entities[i] = validateConcept(c, snap.Links[c.ID])
			return nil
		})
	}
	for i, r := range snap.Relationships {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rels[i] = validateRelationship(r, policy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Policy:      policy,
	}
	entResults := make([]validation.EntityResult, len(entities))
	for i, e := range entities {
		entResults[i] = e.EntityResult
	}
	relResults := make([]validation.RelationshipResult, len(rels))
	for i, r := range rels {
		relResults[i] = r.RelationshipResult
	}
	rep.EntitySummary = validation.SummarizeEntities(entResults)
	rep.RelationshipSummary = validation.SummarizeRelationships(relResults)

	for _, e := range entities {
		if !opts.OnlyIssues || len(e.Issues) > 0 {
			rep.Entities = append(rep.Entities, e)
		}
	}
	for _, r := range rels {
		if r.IsValid && !r.ShouldFlagForReview && !r.Validated {
			rep.markable = append(rep.markable, r.RelationshipID)
		}
		if !opts.OnlyIssues || len(r.Issues) > 0 {
			rep.Relationships = append(rep.Relationships, r)
		}
	}
	return rep, nil
}

func validateConcept(c store.Concept, links []store.PaperConcept) EntityRecord {
	items := make([]validation.WeightedItem, len(links))
	for i, l := range links {
		items[i] = validation.WeightedItem{ID: l.PaperID, Weight: l.Relevance}
	}
	return EntityRecord{
		ConceptID:    c.ID,
		Name:         c.Name,
		Category:     c.ConceptType,
		MentionCount: c.MentionCount,
		Papers:       len(links),
		EntityResult: validation.ValidateEntity(validation.Entity{
			Name:         c.Name,
			Category:     validation.Category(c.ConceptType),
			MentionCount: c.MentionCount,
		}, items),
	}
}

func validateRelationship(r store.Relationship, policy validation.Policy) RelationshipRecord {
	rec := RelationshipRecord{
		RelationshipID: r.ID,
		SourcePaperID:  r.SourcePaperID,
		TargetPaperID:  r.TargetPaperID,
		Kind:           r.RelationshipType,
		Confidence:     r.Confidence,
		Explanation:    r.Explanation,
		Validated:      r.Validated,
	}
	kind, err := validation.ParseRelationKind(r.RelationshipType)
	if err != nil {
		rec.RelationshipResult = validation.RelationshipResult{
			IsValid:             false,
			ShouldFlagForReview: true,
			Issues: []validation.Issue{{
				Severity:     validation.SeverityError,
				Rule:         RuleUnknownKind,
				Message:      err.Error(),
				Field:        "relationship_type",
				CurrentValue: r.RelationshipType,
				SuggestedFix: "Re-run relationship discovery for this pair",
			}},
		}
		return rec
	}
	rec.RelationshipResult = policy.ValidateRelationship(validation.Relationship{
		SourceID:    r.SourcePaperID,
		TargetID:    r.TargetPaperID,
		Kind:        kind,
		Confidence:  r.Confidence,
		Explanation: r.Explanation,
	})
	return rec
}

// Markable returns the IDs of relationships that passed validation without
// a review flag and are not yet marked validated. It covers records
// dropped by OnlyIssues.
func (r *Report) Markable() []int64 {
	return r.markable
}
