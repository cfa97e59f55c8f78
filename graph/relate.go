package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

// relationshipPrompt asks the model how a newer paper relates to an older
// one. Verbs: kind list, newer paper, older paper, shared concepts, prior.
const relationshipPrompt = `You are analysing how two machine learning research papers are related.
Paper A is the newer paper and Paper B the older one. Decide how Paper A relates to Paper B.

RELATIONSHIP TYPES (use exactly these values):
%s

Return a JSON object with exactly these keys:
  "relationship_type" : one of the types above, or null if the papers are not meaningfully related
  "explanation"       : one or two sentences explaining the relationship, naming the concepts involved
  "confidence"        : a float between 0.0 and 1.0

Rules:
- Use null when the shared concepts are incidental.
- The explanation must describe what Paper A does with respect to Paper B.
- Do NOT include any text outside the JSON object.

PAPER A (newer):
%s

PAPER B (older):
%s

SHARED CONCEPTS:
%s

Concept overlap suggests a prior relatedness of %.2f.`

// DefaultPriorWeight is the share of the final confidence taken from the
// concept-overlap prior.
const DefaultPriorWeight = 0.3

// maxAbstractChars bounds each abstract in the relationship prompt.
const maxAbstractChars = 1500

var kindDescriptions = map[validation.RelationKind]string{
	validation.KindImprovesOn: "A improves on B's results or method",
	validation.KindExtends:    "A extends B's approach to a new setting",
	validation.KindEvaluates:  "A evaluates, benchmarks or analyses B",
	validation.KindBuildsOn:   "A builds on B as a foundation",
	validation.KindAddresses:  "A addresses a limitation or problem of B",
	validation.KindCites:      "A cites B without deeper dependence",
}

// RelaterConfig tunes a Relater.
type RelaterConfig struct {
	Concurrency int
	ItemTimeout time.Duration
	// MinRelevance is the per-side relevance a concept needs to count as
	// shared.
	MinRelevance float64
	// PriorWeight is w in w*prior + (1-w)*model. Values outside [0, 1]
	// take DefaultPriorWeight.
	PriorWeight float64
	Recorder    Recorder
}

// Relater classifies candidate paper pairs with a chat model and stores
// the resulting relationships.
type Relater struct {
	backend store.Backend
	chat    llm.Provider
	cfg     RelaterConfig
}

// NewRelater creates a relater. Zero concurrency, timeout and relevance
// take defaults.
func NewRelater(b store.Backend, chat llm.Provider, cfg RelaterConfig) *Relater {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = validation.DefaultMinSharedWeight
	}
	if cfg.PriorWeight < 0 || cfg.PriorWeight > 1 {
		cfg.PriorWeight = DefaultPriorWeight
	}
	return &Relater{backend: b, chat: chat, cfg: cfg}
}

// Blend combines the concept-overlap prior with the model confidence.
func Blend(prior, model, weight float64) float64 {
	return weight*prior + (1-weight)*model
}

// Relate classifies every pair in a bounded worker pool.
func (r *Relater) Relate(ctx context.Context, pairs []store.CandidatePair) (BatchResult, error) {
	slog.Info("relate: processing pairs", "total", len(pairs), "concurrency", r.cfg.Concurrency)
	return runPool(ctx, "relate", pairs, r.cfg.Concurrency, r.cfg.ItemTimeout,
		func(p store.CandidatePair) string { return fmt.Sprintf("%d-%d", p.PaperA, p.PaperB) },
		func(ctx context.Context, p store.CandidatePair) error {
			_, err := r.RelatePair(ctx, p.PaperA, p.PaperB)
			if r.cfg.Recorder != nil {
				r.cfg.Recorder.RecordItem("relate", err)
			}
			return err
		})
}

// PairAssessment is everything computed for one pair before storage.
type PairAssessment struct {
	Source          store.Paper
	Target          store.Paper
	Shared          []validation.SharedItem
	SharedNames     []string
	Prior           float64
	ModelConfidence float64
	Kind            validation.RelationKind
	Explanation     string
}

// RelatePair classifies one pair and stores the relationship. The
// later-published paper becomes the source.
func (r *Relater) RelatePair(ctx context.Context, paperA, paperB int64) (*store.Relationship, error) {
	ctx, span := tracer.Start(ctx, "graph.RelatePair", trace.WithAttributes(
		attribute.Int64("paper.a", paperA),
		attribute.Int64("paper.b", paperB),
	))
	defer span.End()

	start := time.Now()
	rel, err := r.relatePair(ctx, paperA, paperB)

	entry := store.ExtractionLog{
		PaperID:         paperA,
		Stage:           store.StageRelationshipExtraction,
		Status:          store.StatusSuccess,
		DurationSeconds: time.Since(start).Seconds(),
	}
	if err != nil {
		entry.Status = store.StatusFailed
		entry.ErrorMessage = fmt.Sprintf("pair %d-%d: %v", paperA, paperB, err)
		span.RecordError(err)
	}
	if logErr := r.backend.LogExtraction(context.WithoutCancel(ctx), entry); logErr != nil {
		slog.Warn("relate: writing extraction log failed", "paper_a", paperA, "paper_b", paperB, "error", logErr)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("relationship.type", rel.RelationshipType),
		attribute.Float64("relationship.confidence", rel.Confidence),
	)
	return rel, nil
}

func (r *Relater) relatePair(ctx context.Context, paperA, paperB int64) (*store.Relationship, error) {
	a, err := r.backend.GetPaper(ctx, paperA)
	if err != nil {
		return nil, fmt.Errorf("loading paper %d: %w", paperA, err)
	}
	b, err := r.backend.GetPaper(ctx, paperB)
	if err != nil {
		return nil, fmt.Errorf("loading paper %d: %w", paperB, err)
	}

	as, err := r.Assess(ctx, *a, *b)
	if err != nil {
		return nil, err
	}

	rel := store.Relationship{
		SourcePaperID:    as.Source.ID,
		TargetPaperID:    as.Target.ID,
		RelationshipType: string(as.Kind),
		Explanation:      as.Explanation,
		Confidence:       Blend(as.Prior, as.ModelConfidence, r.cfg.PriorWeight),
		PriorConfidence:  as.Prior,
	}
	id, err := r.backend.UpsertRelationship(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("storing relationship: %w", err)
	}
	rel.ID = id
	return &rel, nil
}

// Assess computes the prior and asks the model to classify the pair
// without storing anything.
func (r *Relater) Assess(ctx context.Context, a, b store.Paper) (*PairAssessment, error) {
	src, tgt := orderPair(a, b)
	as := &PairAssessment{Source: src, Target: tgt}

	srcConcepts, err := r.backend.PaperConcepts(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("loading concepts of paper %d: %w", src.ID, err)
	}
	tgtConcepts, err := r.backend.PaperConcepts(ctx, tgt.ID)
	if err != nil {
		return nil, fmt.Errorf("loading concepts of paper %d: %w", tgt.ID, err)
	}

	as.Shared = validation.SharedItems(weighted(srcConcepts), weighted(tgtConcepts), r.cfg.MinRelevance)
	as.Prior = validation.EstimateConfidencePrior(as.Shared)
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.RecordPrior(as.Prior)
	}
	as.SharedNames = sharedNames(as.Shared, srcConcepts)

	prompt := fmt.Sprintf(relationshipPrompt,
		kindList(), describePaper(src), describePaper(tgt), sharedList(as.SharedNames), as.Prior)

	resp, err := r.chat.Chat(ctx, llm.JSONPrompt(prompt))
	if err != nil {
		return nil, fmt.Errorf("relationship llm chat: %w", err)
	}
	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing relationship result: %w", err)
	}
	var out struct {
		Type        *string    `json:"relationship_type"`
		Explanation string     `json:"explanation"`
		Confidence  *flexFloat `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unmarshalling relationship result: %w", err)
	}

	if out.Type != nil {
		as.Kind, err = validation.ParseRelationKind(*out.Type)
		if err != nil {
			return nil, err
		}
	}
	as.Explanation = strings.TrimSpace(out.Explanation)
	if as.Explanation == "" {
		as.Explanation = validation.PlaceholderExplanation
	}
	// A missing confidence leaves the prior as the only signal.
	as.ModelConfidence = out.Confidence.relevance(as.Prior)
	return as, nil
}

// orderPair returns (source, target) with the later-published paper as
// source. Equal or missing dates fall back to the higher ID as source.
func orderPair(a, b store.Paper) (store.Paper, store.Paper) {
	da, db := a.PublishedDate, b.PublishedDate
	if da != "" && db != "" && da != db {
		if da > db {
			return a, b
		}
		return b, a
	}
	if a.ID > b.ID {
		return a, b
	}
	return b, a
}

func weighted(cs []store.ConceptWithRelevance) []validation.WeightedItem {
	out := make([]validation.WeightedItem, len(cs))
	for i, c := range cs {
		out[i] = validation.WeightedItem{ID: c.ID, Weight: c.Relevance}
	}
	return out
}

func sharedNames(shared []validation.SharedItem, cs []store.ConceptWithRelevance) []string {
	names := make(map[int64]string, len(cs))
	for _, c := range cs {
		names[c.ID] = c.Name
	}
	out := make([]string, 0, len(shared))
	for _, s := range shared {
		out = append(out, fmt.Sprintf("%s (%.2f)", names[s.ID], s.AvgWeight))
	}
	return out
}

func sharedList(names []string) string {
	if len(names) == 0 {
		return "(none above the relevance threshold)"
	}
	return "- " + strings.Join(names, "\n- ")
}

func kindList() string {
	var b strings.Builder
	for _, k := range validation.RelationKinds() {
		fmt.Fprintf(&b, "- %-11s: %s\n", k, kindDescriptions[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func describePaper(p store.Paper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if p.PublishedDate != "" {
		fmt.Fprintf(&b, "Published: %s\n", p.PublishedDate)
	}
	if p.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s", truncateRunes(p.Abstract, maxAbstractChars))
	}
	return strings.TrimRight(b.String(), "\n")
}
