//go:build cgo

package papergraph

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/brunobiangulo/papergraph/graph"
	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/metrics"
	"github.com/brunobiangulo/papergraph/publish"
	"github.com/brunobiangulo/papergraph/source"
)

const testDim = 4

// fakeModel answers concept and relationship prompts with fixed JSON and
// embeds texts into deterministic vectors.
type fakeModel struct {
	mu     sync.Mutex
	chats  int
	embeds int
}

func (f *fakeModel) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.chats++
	f.mu.Unlock()
	prompt := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(prompt, "concept extraction engine"):
		return &llm.ChatResponse{Content: `{"concepts": [
			{"name": "Transformer", "type": "method", "description": "Attention-only sequence model", "relevance": 0.9},
			{"name": "Self-Attention", "type": "technique", "relevance": 0.8}
		]}`}, nil
	case strings.Contains(prompt, "analysing how two"):
		return &llm.ChatResponse{Content: `{"relationship_type": "builds_on",
			"explanation": "Paper A builds on the attention architecture introduced by Paper B.",
			"confidence": 0.8}`}, nil
	}
	return nil, errors.New("unexpected prompt")
}

func (f *fakeModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embeds++
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New32a()
		h.Write([]byte(t))
		v := h.Sum32()
		out[i] = []float32{1, float32(v%7) / 7, float32(v%11) / 11, float32(v%13) / 13}
	}
	return out, nil
}

type capturedEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (c *capturedEvents) Publish(_ context.Context, subject string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return nil
}

func (c *capturedEvents) Close() error { return nil }

func (c *capturedEvents) count(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (Engine, *fakeModel, *capturedEvents, *metrics.Metrics) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "papergraph.db")
	cfg.Storage.EmbeddingDim = testDim
	cfg.Extraction.RequestDelay = 0

	model := &fakeModel{}
	events := &capturedEvents{}
	m := metrics.New(prometheus.NewRegistry())
	eng, err := New(context.Background(), cfg,
		WithProviders(model, model),
		WithEventPublisher(events),
		WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, model, events, m
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	textPath := filepath.Join(dir, "2005.14165.txt")
	body := "--- Page 1 ---\nAbstract\nWe scale Transformer language models with self-attention.\n" +
		"1 Introduction\nFew-shot learners emerge at scale."
	if err := os.WriteFile(textPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	entries := []source.Metadata{
		{ArxivID: "1706.03762v7", Title: "Attention Is All You Need", Published: "2017-06-12T17:57:34Z",
			Abstract: "We propose the Transformer, based solely on attention mechanisms.", IsSeminal: true},
		{ArxivID: "1810.04805", Title: "BERT", Published: "2018-10-11T00:00:00Z",
			Abstract: "Pre-training of deep bidirectional transformers with self-attention for language understanding."},
		{ArxivID: "2005.14165", Title: "Language Models are Few-Shot Learners", Published: "2020-05-28T00:00:00Z",
			Abstract: "Scaling up attention-based language models greatly improves few-shot performance.",
			LocalPDFPath: textPath},
	}
	path := filepath.Join(dir, "papers_metadata.json")
	if err := source.SaveCatalog(path, entries); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}
	return path
}

func TestEnginePipeline(t *testing.T) {
	eng, model, events, m := newTestEngine(t)
	ctx := context.Background()

	sum, err := eng.IngestCatalog(ctx, writeCatalog(t))
	if err != nil {
		t.Fatalf("IngestCatalog: %v", err)
	}
	if sum.Ingested != 3 || sum.TextExtracted != 1 || sum.Embedded != 3 || sum.Failed != 0 {
		t.Fatalf("ingest summary = %+v", sum)
	}
	if model.embeds != 1 {
		t.Errorf("expected one batched embedding call, got %d", model.embeds)
	}

	papers, err := eng.ListPapers(ctx)
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	ids := make(map[string]int64)
	for _, p := range papers {
		ids[p.ArxivID] = p.ID
	}
	if _, ok := ids["1706.03762"]; !ok {
		t.Fatalf("version suffix not stripped: %v", ids)
	}

	ext, err := eng.ExtractConcepts(ctx, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractConcepts: %v", err)
	}
	if ext.Succeeded != 3 {
		t.Fatalf("extract result = %+v", ext)
	}
	// Papers with concepts are skipped unless Redo is set.
	again, err := eng.ExtractConcepts(ctx, ExtractOptions{})
	if err != nil {
		t.Fatalf("second ExtractConcepts: %v", err)
	}
	if again.Total != 0 {
		t.Errorf("expected nothing left to extract, got %+v", again)
	}

	est, err := eng.Prior(ctx, ids["1810.04805"], ids["1706.03762"])
	if err != nil {
		t.Fatalf("Prior: %v", err)
	}
	if len(est.Shared) != 2 || est.Prior != 0.30 {
		t.Errorf("prior estimate = %+v", est)
	}

	rel, err := eng.DiscoverRelationships(ctx, DiscoverOptions{})
	if err != nil {
		t.Fatalf("DiscoverRelationships: %v", err)
	}
	if rel.Succeeded != 3 {
		t.Fatalf("relate result = %+v", rel)
	}

	rels, err := eng.PaperRelationships(ctx, ids["2005.14165"], 0)
	if err != nil {
		t.Fatalf("PaperRelationships: %v", err)
	}
	if len(rels) != 2 {
		t.Fatalf("got %d relationships for the newest paper, want 2", len(rels))
	}
	for _, r := range rels {
		if r.SourcePaperID != ids["2005.14165"] {
			t.Errorf("newest paper should be the source: %+v", r)
		}
		// 0.3 * 0.30 + 0.7 * 0.8
		if r.Confidence < 0.649 || r.Confidence > 0.651 {
			t.Errorf("blended confidence = %v", r.Confidence)
		}
	}

	run, err := eng.Validate(ctx, ValidateOptions{Mark: true})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if run.Report.RelationshipSummary.Total != 3 || run.Marked != 3 {
		t.Errorf("validation run: total %d marked %d", run.Report.RelationshipSummary.Total, run.Marked)
	}
	rerun, err := eng.Validate(ctx, ValidateOptions{Mark: true, OnlyIssues: true})
	if err != nil {
		t.Fatalf("second Validate: %v", err)
	}
	if rerun.Marked != 0 {
		t.Errorf("already validated relationships marked again: %d", rerun.Marked)
	}

	stats, err := eng.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalRelationships != 3 || stats.ValidatedRelationships != 3 || stats.TotalConcepts != 2 {
		t.Errorf("statistics = %+v", stats)
	}

	nodes, err := eng.Lineage(ctx, graph.LineageQuery{SeedID: ids["2005.14165"], MaxDepth: 2})
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(nodes) != 3 || nodes[0].PaperID != ids["2005.14165"] {
		t.Errorf("lineage = %+v", nodes)
	}

	if n := events.count(publish.SubjectValidationCompleted); n != 2 {
		t.Errorf("validation events = %d, want 2", n)
	}
	if n := events.count(publish.SubjectStageCompleted); n < 3 {
		t.Errorf("stage events = %d, want at least 3", n)
	}
	if got := testutil.ToFloat64(m.ValidationRunsTotal); got != 2 {
		t.Errorf("validation runs metric = %v", got)
	}
	if got := testutil.ToFloat64(m.ItemsProcessedTotal.WithLabelValues("relate", "success")); got != 3 {
		t.Errorf("relate items metric = %v", got)
	}
}

func TestEngineSearchAndSimilar(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.IngestCatalog(ctx, writeCatalog(t)); err != nil {
		t.Fatalf("IngestCatalog: %v", err)
	}

	hits, err := eng.Search(ctx, "attention mechanisms", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	textHit := false
	for _, h := range hits {
		if slices.Contains(h.Methods, "fts") && h.Snippet != "" {
			textHit = true
		}
	}
	if !textHit {
		t.Fatalf("expected a full-text hit with a snippet, got %+v", hits)
	}

	// No paper mentions the words, so only the embedding ranking answers.
	hits, err = eng.Search(ctx, "gaussian splatting", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if !slices.Equal(h.Methods, []string{"vector"}) {
			t.Errorf("paper %d found by %v, want vector only", h.Paper.ID, h.Methods)
		}
		if h.Paper.Title == "" {
			t.Error("vector hits should carry paper metadata")
		}
	}

	papers, err := eng.ListPapers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	similar, err := eng.Similar(ctx, papers[0].ID, 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(similar) != 2 {
		t.Fatalf("got %d similar papers, want 2", len(similar))
	}
	for _, s := range similar {
		if s.Paper.ID == papers[0].ID {
			t.Error("similar results include the paper itself")
		}
		if s.Paper.Title == "" {
			t.Error("similar results should carry paper metadata")
		}
	}

	if _, err := eng.Similar(ctx, 9999, 5); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("err = %v, want ErrPaperNotFound", err)
	}
}

func TestEngineIngestKeepsText(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Diffusion models denoise images step by step."), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := eng.IngestFile(ctx, path, WithoutEmbedding())
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	p, err := eng.GetPaper(ctx, id)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if p.ArxivID != "local:notes" || !p.HasText {
		t.Errorf("paper = %+v", p)
	}

	// Text already present: a re-ingest of an unreadable file is a no-op.
	meta := source.Metadata{ArxivID: "local:notes", Title: "Notes", LocalPDFPath: filepath.Join(t.TempDir(), "missing.pdf")}
	if _, err := eng.Ingest(ctx, meta, WithoutEmbedding()); err != nil {
		t.Errorf("re-ingest should keep the stored text: %v", err)
	}
	if _, err := eng.Ingest(ctx, meta, WithoutEmbedding(), WithForceReparse()); !errors.Is(err, ErrParsingFailed) {
		t.Errorf("forced re-ingest err = %v, want ErrParsingFailed", err)
	}

	if _, err := eng.Ingest(ctx, source.Metadata{Title: "No ID"}); !errors.Is(err, ErrMissingArxivID) {
		t.Errorf("err = %v, want ErrMissingArxivID", err)
	}
}

func TestLocalArxivID(t *testing.T) {
	tests := map[string]string{
		"2301.12345":    "2301.12345",
		"2301.12345v2":  "2301.12345",
		"1706.0376":     "1706.0376",
		"cs_0112017":    "cs/0112017",
		"my-draft":      "local:my-draft",
		"2301.123456":   "local:2301.123456",
		"attention2017": "local:attention2017",
	}
	for in, want := range tests {
		if got := localArxivID(in); got != want {
			t.Errorf("localArxivID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "mysql"
	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}
