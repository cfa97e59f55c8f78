//go:build cgo

package graph

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// scriptedChat answers prompts by the first matching substring.
type scriptedChat struct {
	mu      sync.Mutex
	replies map[string]string
	prompts []string
}

func (c *scriptedChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	for key, reply := range c.replies {
		if strings.Contains(prompt, key) {
			return &llm.ChatResponse{Content: reply}, nil
		}
	}
	return nil, errors.New("no scripted reply")
}

func (c *scriptedChat) Embed(context.Context, []string) ([][]float32, error) {
	return nil, llm.ErrEmbeddingUnsupported
}

func seedPaper(t *testing.T, s *store.Store, arxivID, title, published string) int64 {
	t.Helper()
	id, err := s.UpsertPaper(context.Background(), store.Paper{
		ArxivID:       arxivID,
		Title:         title,
		Abstract:      title + " abstract.",
		PublishedDate: published,
	})
	if err != nil {
		t.Fatalf("upserting paper %s: %v", arxivID, err)
	}
	return id
}

func linkConcepts(t *testing.T, s *store.Store, paperID int64, rel map[string]float64) {
	t.Helper()
	var cs []store.ConceptWithRelevance
	for name, r := range rel {
		cs = append(cs, store.ConceptWithRelevance{Concept: store.Concept{Name: name}, Relevance: r})
	}
	if err := s.ReplacePaperConcepts(context.Background(), paperID, cs); err != nil {
		t.Fatalf("linking concepts: %v", err)
	}
}

func TestExtractStoresConcepts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedPaper(t, s, "1706.03762", "Attention Is All You Need", "2017-06-12")
	if err := s.UpdatePaperText(ctx, id, "--- Page 1 ---\nAbstract\nWe use the Transformer (TF).\nReferences\n[1] Old work."); err != nil {
		t.Fatalf("UpdatePaperText: %v", err)
	}

	chat := &scriptedChat{replies: map[string]string{
		"concept extraction engine": "```json\n" + `{"concepts": [
			{"name": "Transformer", "type": "method", "description": "Attention model", "relevance": 0.95, "context": "We use the Transformer"},
			{"name": "Attention", "type": "idea", "relevance": "0.6"}
		]}` + "\n```",
	}}
	ex := NewConceptExtractor(s, chat, ExtractorConfig{})

	paper, err := s.GetPaper(ctx, id)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	got, err := ex.Extract(ctx, *paper)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d concepts, want 2", len(got))
	}

	stored, err := s.PaperConcepts(ctx, id)
	if err != nil {
		t.Fatalf("PaperConcepts: %v", err)
	}
	if len(stored) != 2 || stored[0].Name != "transformer" || stored[1].ConceptType != "concept" {
		t.Errorf("stored concepts = %+v", stored)
	}

	prompt := chat.prompts[0]
	if !strings.Contains(prompt, "We use the Transformer") {
		t.Error("prompt should contain the paper body")
	}
	if strings.Contains(prompt, "Old work") {
		t.Error("prompt should not contain the references section")
	}
	if !strings.Contains(prompt, "HINTS") || !strings.Contains(prompt, "TF") {
		t.Error("prompt should carry the detected acronym as a hint")
	}

	// Re-extraction does not inflate mention counts.
	if _, err := ex.Extract(ctx, *paper); err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	concepts, err := s.ListConcepts(ctx)
	if err != nil {
		t.Fatalf("ListConcepts: %v", err)
	}
	for _, c := range concepts {
		if c.MentionCount != 1 {
			t.Errorf("concept %q mention_count = %d, want 1", c.Name, c.MentionCount)
		}
	}
}

func TestExtractAllLogsFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedPaper(t, s, "2001.00001", "Good Paper", "2020-01-01")
	seedPaper(t, s, "2001.00002", "Broken Paper", "2020-01-02")

	chat := &scriptedChat{replies: map[string]string{
		"Good Paper":   `{"concepts": [{"name": "dropout", "type": "technique", "relevance": 0.7}]}`,
		"Broken Paper": `no json here`,
	}}
	papers, err := s.ListPapers(ctx)
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}

	res, err := NewConceptExtractor(s, chat, ExtractorConfig{Concurrency: 2}).ExtractAll(ctx, papers)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 succeeded and 1 failed", res)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.FailedExtractions != 1 {
		t.Errorf("failed extractions = %d, want 1", stats.FailedExtractions)
	}
}

func TestRelatePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := seedPaper(t, s, "1706.03762", "Attention Is All You Need", "2017-06-12")
	newer := seedPaper(t, s, "1810.04805", "BERT", "2018-10-11")

	linkConcepts(t, s, older, map[string]float64{"transformer": 0.9, "attention": 0.8, "bleu": 0.5})
	linkConcepts(t, s, newer, map[string]float64{"transformer": 0.8, "attention": 0.6, "bleu": 0.2})

	chat := &scriptedChat{replies: map[string]string{
		"PAPER A (newer):\nTitle: BERT": `{"relationship_type": "builds_on", "explanation": "BERT builds on the Transformer encoder.", "confidence": 0.9}`,
	}}
	r := NewRelater(s, chat, RelaterConfig{PriorWeight: DefaultPriorWeight})

	// Pass the older paper first; the newer one must still become source.
	rel, err := r.RelatePair(ctx, older, newer)
	if err != nil {
		t.Fatalf("RelatePair: %v", err)
	}
	if rel.SourcePaperID != newer || rel.TargetPaperID != older {
		t.Errorf("direction = %d -> %d, want %d -> %d", rel.SourcePaperID, rel.TargetPaperID, newer, older)
	}

	// transformer avg 0.85 is high, attention avg 0.7 is high, bleu is
	// below the shared threshold on one side.
	wantPrior := validation.EstimateConfidencePrior([]validation.SharedItem{{ID: 1, AvgWeight: 0.85}, {ID: 2, AvgWeight: 0.7}})
	if math.Abs(rel.PriorConfidence-wantPrior) > 1e-9 {
		t.Errorf("prior = %v, want %v", rel.PriorConfidence, wantPrior)
	}
	if want := Blend(wantPrior, 0.9, DefaultPriorWeight); math.Abs(rel.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", rel.Confidence, want)
	}

	stored, err := s.PaperRelationships(ctx, newer, 0)
	if err != nil {
		t.Fatalf("PaperRelationships: %v", err)
	}
	if len(stored) != 1 || stored[0].RelationshipType != "builds_on" {
		t.Errorf("stored relationships = %+v", stored)
	}
	if !strings.Contains(chat.prompts[0], "- transformer (0.85)") {
		t.Errorf("prompt should list shared concepts, got:\n%s", chat.prompts[0])
	}
}

func TestRelatePairNullKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedPaper(t, s, "2101.00001", "Paper A", "2021-01-01")
	b := seedPaper(t, s, "2102.00001", "Paper B", "2021-02-01")

	chat := &scriptedChat{replies: map[string]string{
		"relationship_type": `{"relationship_type": null, "explanation": "The overlap is incidental.", "confidence": 0.2}`,
	}}
	rel, err := NewRelater(s, chat, RelaterConfig{PriorWeight: 0.3}).RelatePair(ctx, a, b)
	if err != nil {
		t.Fatalf("RelatePair: %v", err)
	}
	if rel.RelationshipType != "" {
		t.Errorf("kind = %q, want none", rel.RelationshipType)
	}
	if rel.PriorConfidence != validation.PriorFloor {
		t.Errorf("prior without shared concepts = %v, want %v", rel.PriorConfidence, validation.PriorFloor)
	}
}

func TestRelatePairUnknownKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedPaper(t, s, "2101.00001", "Paper A", "2021-01-01")
	b := seedPaper(t, s, "2102.00001", "Paper B", "2021-02-01")

	chat := &scriptedChat{replies: map[string]string{
		"relationship_type": `{"relationship_type": "inspired_by", "explanation": "Paper B was inspired by paper A.", "confidence": 0.8}`,
	}}
	if _, err := NewRelater(s, chat, RelaterConfig{}).RelatePair(ctx, a, b); err == nil {
		t.Fatal("expected error for unknown relationship kind")
	}
	rels, err := s.ListRelationships(ctx, 0)
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("nothing should be stored, got %+v", rels)
	}
}

func TestLineage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := seedPaper(t, s, "1", "Root", "2015-01-01")
	p2 := seedPaper(t, s, "2", "Child", "2016-01-01")
	p3 := seedPaper(t, s, "3", "Grandchild", "2017-01-01")
	p4 := seedPaper(t, s, "4", "Weak", "2018-01-01")
	p5 := seedPaper(t, s, "5", "Unrelated", "2019-01-01")

	rels := []store.Relationship{
		{SourcePaperID: p2, TargetPaperID: p1, RelationshipType: "builds_on", Confidence: 0.9},
		{SourcePaperID: p3, TargetPaperID: p2, RelationshipType: "extends", Confidence: 0.8},
		{SourcePaperID: p4, TargetPaperID: p1, RelationshipType: "cites", Confidence: 0.3},
		{SourcePaperID: p5, TargetPaperID: p3, RelationshipType: "", Confidence: 0.9},
	}
	for _, r := range rels {
		if _, err := s.UpsertRelationship(ctx, r); err != nil {
			t.Fatalf("UpsertRelationship: %v", err)
		}
	}

	ids := func(nodes []LineageNode) []int64 {
		var out []int64
		for _, n := range nodes {
			out = append(out, n.PaperID)
		}
		return out
	}
	equal := func(a, b []int64) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	tests := []struct {
		name string
		q    LineageQuery
		want []int64
	}{
		{"ancestors of grandchild", LineageQuery{SeedID: p3, MaxDepth: 5}, []int64{p3, p2, p1}},
		{"depth limit", LineageQuery{SeedID: p3, MaxDepth: 1}, []int64{p3, p2}},
		{"descendants above confidence", LineageQuery{SeedID: p1, MaxDepth: 5, Direction: Descendants, MinConfidence: 0.5}, []int64{p1, p2, p3}},
		{"descendants all", LineageQuery{SeedID: p1, MaxDepth: 1, Direction: Descendants}, []int64{p1, p2, p4}},
		{"kind filter", LineageQuery{SeedID: p1, MaxDepth: 5, Direction: Descendants, Kinds: []validation.RelationKind{validation.KindCites}}, []int64{p1, p4}},
		{"none kind not followed", LineageQuery{SeedID: p5, MaxDepth: 5, Direction: Both}, []int64{p5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Lineage(ctx, s, tt.q)
			if err != nil {
				t.Fatalf("Lineage: %v", err)
			}
			if got := ids(nodes); !equal(got, tt.want) {
				t.Errorf("lineage = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Lineage(ctx, s, LineageQuery{SeedID: 999, MaxDepth: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown seed error = %v, want ErrNotFound", err)
	}
}

func TestDetectClusters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedPaper(t, s, "1", "A", "2015-01-01")
	b := seedPaper(t, s, "2", "B", "2016-01-01")
	c := seedPaper(t, s, "3", "C", "2017-01-01")
	if _, err := s.UpsertRelationship(ctx, store.Relationship{SourcePaperID: b, TargetPaperID: a, RelationshipType: "extends", Confidence: 0.8}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRelationship(ctx, store.Relationship{SourcePaperID: c, TargetPaperID: a, RelationshipType: "cites", Confidence: 0.2}); err != nil {
		t.Fatal(err)
	}

	clusters, err := DetectClusters(ctx, s, 0.5)
	if err != nil {
		t.Fatalf("DetectClusters: %v", err)
	}
	if len(clusters) != 1 || len(clusters[0].PaperIDs) != 2 {
		t.Errorf("clusters = %+v, want one cluster of two papers", clusters)
	}
}
