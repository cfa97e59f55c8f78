package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/parser"
	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

// conceptExtractionPrompt asks the model for the technical concepts of one
// paper. The three %s verbs are the category list, optional hints, and the
// paper text.
const conceptExtractionPrompt = `You are a concept extraction engine for machine learning research papers.
Given the paper below, extract the technical concepts it introduces, uses, or evaluates.

CONCEPT TYPES (use exactly these values):
%s

Return a JSON object with exactly one key:
  "concepts" : array of {"name": string, "type": string, "description": string, "relevance": number, "context": string}

Rules:
- Names are the canonical short form of the concept (e.g. "transformer", "imagenet", "bleu").
- Relevance is a float between 0.0 and 1.0: how central the concept is to this paper.
- Context is one sentence from the paper showing how the concept is used.
- Skip generic words such as "model", "method", "approach" or "results".
- Return at most 20 concepts. If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

EXAMPLE:

Input: "We propose the Transformer, a model based solely on attention mechanisms. On WMT 2014 English-to-German it reaches 28.4 BLEU."
Output:
{"concepts": [{"name": "transformer", "type": "method", "description": "Sequence transduction architecture built on attention", "relevance": 0.95, "context": "We propose the Transformer, a model based solely on attention mechanisms."}, {"name": "attention mechanism", "type": "technique", "description": "Weighted aggregation over input positions", "relevance": 0.85, "context": "a model based solely on attention mechanisms"}, {"name": "wmt 2014", "type": "dataset", "description": "Machine translation benchmark", "relevance": 0.6, "context": "On WMT 2014 English-to-German"}, {"name": "bleu", "type": "metric", "description": "Translation quality metric", "relevance": 0.5, "context": "it reaches 28.4 BLEU"}]}

%s
PAPER:
%s`

// defaultMaxTextChars bounds the paper text sent to the model.
const defaultMaxTextChars = 12000

// defaultRelevance is used when the model's relevance cannot be read as a
// number.
const defaultRelevance = 0.5

var (
	// Parenthesised acronyms: "Long Short-Term Memory (LSTM)".
	reAcronym = regexp.MustCompile(`\(([A-Z][A-Za-z0-9-]{1,11})\)`)
	// Common benchmark names.
	reDataset = regexp.MustCompile(`\b(?:ImageNet|CIFAR-?\d+|MNIST|COCO|SQuAD(?:\s?\d\.\d)?|GLUE|SuperGLUE|WMT\s?\d{2,4}|Penn Treebank|WikiText-?\d+|LibriSpeech)\b`)
	// Evaluation metrics.
	reMetric = regexp.MustCompile(`\b(?:BLEU|ROUGE(?:-[L12])?|METEOR|F1|perplexity|top-[15] accuracy|mAP|AUC|WER)\b`)
)

// preExtractHints finds acronyms, benchmark names and metrics that models
// tend to miss. They are passed to the prompt as hints.
func preExtractHints(text string) []string {
	seen := make(map[string]bool)
	var hints []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		hints = append(hints, s)
	}
	for _, m := range reAcronym.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, re := range []*regexp.Regexp{reDataset, reMetric} {
		for _, m := range re.FindAllString(text, -1) {
			add(m)
		}
	}
	return hints
}

// ExtractedConcept is one concept as returned by the model.
type ExtractedConcept struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Relevance   *flexFloat `json:"relevance"`
	Context     string     `json:"context"`
}

type conceptResult struct {
	Concepts []ExtractedConcept `json:"concepts"`
}

// flexFloat accepts a JSON number or a numeric string. Anything else
// decodes as NaN.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat(n)
			return nil
		}
	}
	*f = flexFloat(math.NaN())
	return nil
}

// relevance returns the parsed value, or def when it is missing or
// unreadable.
func (f *flexFloat) relevance(def float64) float64 {
	if f == nil || math.IsNaN(float64(*f)) {
		return def
	}
	return float64(*f)
}

// ExtractorConfig tunes a ConceptExtractor.
type ExtractorConfig struct {
	Concurrency  int
	ItemTimeout  time.Duration
	MaxTextChars int
	Recorder     Recorder
}

// ConceptExtractor asks a chat model for the concepts of each paper and
// stores them as the paper's concept links.
type ConceptExtractor struct {
	backend store.Backend
	chat    llm.Provider
	cfg     ExtractorConfig
}

// NewConceptExtractor creates an extractor. Zero config values take
// defaults.
func NewConceptExtractor(b store.Backend, chat llm.Provider, cfg ExtractorConfig) *ConceptExtractor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = defaultMaxTextChars
	}
	return &ConceptExtractor{backend: b, chat: chat, cfg: cfg}
}

// ExtractAll runs Extract over papers in a bounded worker pool. Papers
// without text or abstract are skipped.
func (e *ConceptExtractor) ExtractAll(ctx context.Context, papers []store.Paper) (BatchResult, error) {
	var eligible []store.Paper
	for _, p := range papers {
		if !p.HasText && p.FullText == "" && p.Abstract == "" {
			slog.Debug("extract: skipping paper without text", "arxiv_id", p.ArxivID)
			continue
		}
		eligible = append(eligible, p)
	}
	slog.Info("extract: processing papers", "total", len(papers), "eligible", len(eligible),
		"concurrency", e.cfg.Concurrency)

	return runPool(ctx, "extract", eligible, e.cfg.Concurrency, e.cfg.ItemTimeout,
		func(p store.Paper) string { return p.ArxivID },
		func(ctx context.Context, p store.Paper) error {
			_, err := e.Extract(ctx, p)
			if e.cfg.Recorder != nil {
				e.cfg.Recorder.RecordItem("extract", err)
			}
			return err
		})
}

// Extract extracts and stores the concepts of one paper, replacing any
// previous links. The outcome is written to the extraction log.
func (e *ConceptExtractor) Extract(ctx context.Context, paper store.Paper) ([]store.ConceptWithRelevance, error) {
	ctx, span := tracer.Start(ctx, "graph.ExtractConcepts", trace.WithAttributes(
		attribute.Int64("paper.id", paper.ID),
		attribute.String("paper.arxiv_id", paper.ArxivID),
	))
	defer span.End()

	start := time.Now()
	concepts, err := e.extract(ctx, paper)
	if err == nil {
		err = e.backend.ReplacePaperConcepts(ctx, paper.ID, concepts)
		if err != nil {
			err = fmt.Errorf("storing concepts: %w", err)
		}
	}

	entry := store.ExtractionLog{
		PaperID:         paper.ID,
		Stage:           store.StageEntityExtraction,
		Status:          store.StatusSuccess,
		DurationSeconds: time.Since(start).Seconds(),
	}
	if err != nil {
		entry.Status = store.StatusFailed
		entry.ErrorMessage = err.Error()
		span.RecordError(err)
	}
	if logErr := e.backend.LogExtraction(context.WithoutCancel(ctx), entry); logErr != nil {
		slog.Warn("extract: writing extraction log failed", "paper_id", paper.ID, "error", logErr)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("concepts", len(concepts)))
	return concepts, nil
}

func (e *ConceptExtractor) extract(ctx context.Context, paper store.Paper) ([]store.ConceptWithRelevance, error) {
	text := e.paperText(ctx, paper)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("paper %s has no text", paper.ArxivID)
	}

	var hints string
	if h := preExtractHints(text); len(h) > 0 {
		hints = fmt.Sprintf("HINTS: The following terms were detected in the text. Include them when they are real concepts of the paper:\n%s\n",
			strings.Join(h, ", "))
	}
	prompt := fmt.Sprintf(conceptExtractionPrompt, categoryList(), hints, text)

	resp, err := e.chat.Chat(ctx, llm.JSONPrompt(prompt))
	if err != nil {
		return nil, fmt.Errorf("concept extraction llm chat: %w", err)
	}

	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing concept extraction result: %w", err)
	}
	var result conceptResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling concept extraction result: %w", err)
	}
	return normalizeConcepts(result.Concepts), nil
}

// paperText builds the model input: title, abstract and the body of the
// full text up to the references, truncated to MaxTextChars.
func (e *ConceptExtractor) paperText(ctx context.Context, paper store.Paper) string {
	full := paper.FullText
	if full == "" && paper.HasText {
		if p, err := e.backend.GetPaper(ctx, paper.ID); err == nil {
			full = p.FullText
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("extract: loading full text failed", "paper_id", paper.ID, "error", err)
		}
	}

	var b strings.Builder
	if paper.Title != "" {
		b.WriteString("Title: " + paper.Title + "\n")
	}
	if paper.Abstract != "" {
		b.WriteString("Abstract: " + paper.Abstract + "\n")
	}
	if full != "" {
		b.WriteString("\n")
		b.WriteString(parser.FromText(full).Body())
	}
	return truncateRunes(b.String(), e.cfg.MaxTextChars)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func categoryList() string {
	desc := map[validation.Category]string{
		validation.CategoryMethod:    "a named model, architecture or algorithm",
		validation.CategoryTechnique: "a reusable technique or training trick",
		validation.CategoryDataset:   "a dataset or benchmark",
		validation.CategoryMetric:    "an evaluation metric",
		validation.CategoryConcept:   "any other technical idea",
	}
	var b strings.Builder
	for _, c := range validation.Categories() {
		fmt.Fprintf(&b, "- %-10s: %s\n", c, desc[c])
	}
	return strings.TrimRight(b.String(), "\n")
}

var lowerCaser = cases.Lower(language.Und)

// NormalizeName lowercases a concept name and collapses inner whitespace.
func NormalizeName(name string) string {
	return lowerCaser.String(strings.Join(strings.Fields(name), " "))
}

// normalizeConcepts cleans model output. Names are normalised and
// deduplicated (first wins), unknown types become "concept", and an
// unreadable relevance takes the default. Readable relevance values are
// kept as-is even when out of range.
func normalizeConcepts(in []ExtractedConcept) []store.ConceptWithRelevance {
	seen := make(map[string]bool, len(in))
	out := make([]store.ConceptWithRelevance, 0, len(in))
	for _, c := range in {
		name := NormalizeName(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		cat, err := validation.ParseCategory(c.Type)
		if err != nil {
			cat = validation.CategoryConcept
		}
		rel := c.Relevance.relevance(defaultRelevance)
		out = append(out, store.ConceptWithRelevance{
			Concept: store.Concept{
				Name:        name,
				Description: strings.TrimSpace(c.Description),
				ConceptType: string(cat),
			},
			Relevance: rel,
			Context:   strings.TrimSpace(c.Context),
		})
	}
	return out
}
