//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePaper(arxivID, title string) Paper {
	return Paper{
		ArxivID:       arxivID,
		Title:         title,
		Abstract:      "We present " + title + " for real-time radiance field rendering.",
		Authors:       []string{"A. Author", "B. Author"},
		PublishedDate: "2023-08-08",
	}
}

func mustPaper(t *testing.T, s *Store, p Paper) int64 {
	t.Helper()
	id, err := s.UpsertPaper(context.Background(), p)
	if err != nil {
		t.Fatalf("upserting paper %s: %v", p.ArxivID, err)
	}
	return id
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath, 4)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Fatalf("schema_version rows = %d, want %d", n, len(migrations))
	}
}

// ---------------------------------------------------------------------------
// Papers
// ---------------------------------------------------------------------------

func TestUpsertAndGetPaper(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePaper("2308.04079", "3D Gaussian Splatting")
	p.IsSeminal = true
	id := mustPaper(t, s, p)

	got, err := s.GetPaper(ctx, id)
	if err != nil {
		t.Fatalf("getting paper: %v", err)
	}
	if got.ArxivID != p.ArxivID || got.Title != p.Title || !got.IsSeminal {
		t.Fatalf("unexpected paper: %+v", got)
	}
	if len(got.Authors) != 2 || got.Authors[1] != "B. Author" {
		t.Fatalf("authors = %v", got.Authors)
	}
	if got.HasText {
		t.Fatal("new paper should have no text")
	}

	byArxiv, err := s.GetPaperByArxivID(ctx, "2308.04079")
	if err != nil || byArxiv.ID != id {
		t.Fatalf("GetPaperByArxivID = %+v, %v", byArxiv, err)
	}
}

func TestGetPaperNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPaper(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = s.GetPaperByArxivID(context.Background(), "0000.00000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertPaperUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePaper("2401.00001", "First Title")
	p.IsSeminal = true
	p.PDFPath = "/papers/2401.00001.pdf"
	p.CitationCount = 10
	id1 := mustPaper(t, s, p)

	p.Title = "Second Title"
	p.IsSeminal = false
	p.PDFPath = ""
	p.Abstract = ""
	p.CitationCount = 3
	id2 := mustPaper(t, s, p)

	if id1 != id2 {
		t.Fatalf("upsert should return the same id: %d vs %d", id1, id2)
	}
	got, err := s.GetPaper(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Second Title" {
		t.Errorf("title = %q, want updated", got.Title)
	}
	if !got.IsSeminal {
		t.Error("seminal flag should not be cleared")
	}
	if got.PDFPath != "/papers/2401.00001.pdf" {
		t.Errorf("pdf path overwritten with empty value: %q", got.PDFPath)
	}
	if got.Abstract == "" {
		t.Error("abstract overwritten with empty value")
	}
	if got.CitationCount != 10 {
		t.Errorf("citation count = %d, want 10", got.CitationCount)
	}
}

func TestUpsertPaperRequiresArxivID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpsertPaper(context.Background(), Paper{Title: "x"}); err == nil {
		t.Fatal("expected error for empty arxiv id")
	}
}

func TestUpdatePaperText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustPaper(t, s, samplePaper("2401.00002", "Text Paper"))

	if err := s.UpdatePaperText(ctx, id, "--- Page 1 ---\nhello"); err != nil {
		t.Fatalf("updating text: %v", err)
	}
	got, _ := s.GetPaper(ctx, id)
	if !got.HasText || got.FullText == "" || got.ProcessedAt == "" {
		t.Fatalf("text not stored: %+v", got)
	}

	if err := s.UpdatePaperText(ctx, 12345, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPapers(t *testing.T) {
	s := newTestStore(t)
	later := samplePaper("2402.00001", "Later")
	later.PublishedDate = "2024-02-01"
	earlier := samplePaper("2301.00001", "Earlier")
	earlier.PublishedDate = "2023-01-01"
	mustPaper(t, s, later)
	mustPaper(t, s, earlier)

	papers, err := s.ListPapers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 2 || papers[0].Title != "Earlier" {
		t.Fatalf("unexpected order: %+v", papers)
	}
	if papers[0].FullText != "" {
		t.Fatal("ListPapers should not load full text")
	}
}

func TestSearchPapers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustPaper(t, s, samplePaper("2308.04079", "3D Gaussian Splatting"))
	other := samplePaper("2003.08934", "NeRF")
	other.Abstract = "Representing scenes as neural radiance fields for view synthesis."
	mustPaper(t, s, other)

	results, err := s.SearchPapers(ctx, "gaussian", 10)
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(results) != 1 || results[0].Paper.ArxivID != "2308.04079" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", results[0].Score)
	}

	none, err := s.SearchPapers(ctx, "transformer", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no results, got %d", len(none))
	}

	empty, err := s.SearchPapers(ctx, `  "*" `, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("punctuation-only query: %v %v", empty, err)
	}
}

func TestSimilarPapers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustPaper(t, s, samplePaper("1", "A"))
	b := mustPaper(t, s, samplePaper("2", "B"))
	c := mustPaper(t, s, samplePaper("3", "C"))

	for id, v := range map[int64][]float32{
		a: {1, 0, 0, 0},
		b: {0.9, 0.1, 0, 0},
		c: {0, 0, 1, 0},
	} {
		if err := s.InsertPaperEmbedding(ctx, id, v); err != nil {
			t.Fatalf("inserting embedding: %v", err)
		}
	}
	// Replacing an embedding must not fail.
	if err := s.InsertPaperEmbedding(ctx, a, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("replacing embedding: %v", err)
	}

	results, err := s.SimilarPapers(ctx, a, 1)
	if err != nil {
		t.Fatalf("similar papers: %v", err)
	}
	if len(results) != 1 || results[0].Paper.ID != b {
		t.Fatalf("nearest to A should be B, got %+v", results)
	}

	if err := s.InsertPaperEmbedding(ctx, a, []float32{1, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if _, err := s.SimilarPapers(ctx, 999, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Concepts
// ---------------------------------------------------------------------------

func TestUpsertConceptIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertConcept(ctx, Concept{Name: "NeRF", ConceptType: "method", Description: "neural radiance fields"})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.UpsertConcept(ctx, Concept{Name: "nerf", ConceptType: "method"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("case-insensitive names should dedupe: %d vs %d", id1, id2)
	}
	concepts, _ := s.ListConcepts(ctx)
	if len(concepts) != 1 || concepts[0].MentionCount != 2 {
		t.Fatalf("unexpected concepts: %+v", concepts)
	}
	if concepts[0].Description != "neural radiance fields" {
		t.Errorf("description lost: %q", concepts[0].Description)
	}
}

func TestReplacePaperConcepts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustPaper(t, s, samplePaper("1", "A"))

	set := []ConceptWithRelevance{
		{Concept: Concept{Name: "PSNR", ConceptType: "metric"}, Relevance: 0.6, Context: "evaluated with PSNR"},
		{Concept: Concept{Name: "Splatting", ConceptType: "technique"}, Relevance: 0.9},
	}
	if err := s.ReplacePaperConcepts(ctx, p, set); err != nil {
		t.Fatalf("replacing: %v", err)
	}
	// Re-extraction must not inflate mention counts.
	if err := s.ReplacePaperConcepts(ctx, p, set[1:]); err != nil {
		t.Fatalf("replacing again: %v", err)
	}

	got, err := s.PaperConcepts(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Splatting" || got[0].MentionCount != 1 {
		t.Fatalf("unexpected links: %+v", got)
	}
}

func TestSharedConceptsAndCandidatePairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustPaper(t, s, samplePaper("1", "A"))
	b := mustPaper(t, s, samplePaper("2", "B"))
	c := mustPaper(t, s, samplePaper("3", "C"))

	link := func(paper int64, name string, rel float64) {
		t.Helper()
		cid, err := s.UpsertConcept(ctx, Concept{Name: name})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.LinkPaperConcept(ctx, PaperConcept{PaperID: paper, ConceptID: cid, Relevance: rel}); err != nil {
			t.Fatal(err)
		}
	}
	link(a, "splatting", 0.9)
	link(b, "splatting", 0.7)
	link(a, "psnr", 0.5)
	link(b, "psnr", 0.3)
	link(c, "psnr", 0.8)

	shared, err := s.SharedConcepts(ctx, a, b, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if len(shared) != 1 || shared[0].Name != "splatting" || shared[0].RelevanceA != 0.9 {
		t.Fatalf("unexpected shared: %+v", shared)
	}

	pairs, err := s.CandidatePairs(ctx, CandidateQuery{MinRelevance: 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs (a-b, a-c), got %+v", pairs)
	}
	for _, p := range pairs {
		if p.PaperA >= p.PaperB {
			t.Errorf("pair not ordered: %+v", p)
		}
	}

	if _, err := s.UpsertRelationship(ctx, Relationship{SourcePaperID: b, TargetPaperID: a, RelationshipType: "extends", Confidence: 0.7}); err != nil {
		t.Fatal(err)
	}
	pairs, err = s.CandidatePairs(ctx, CandidateQuery{MinRelevance: 0.4, SkipExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || pairs[0].PaperB != c {
		t.Fatalf("expected only a-c after skipping related pairs, got %+v", pairs)
	}
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

func TestUpsertRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustPaper(t, s, samplePaper("1", "A"))
	b := mustPaper(t, s, samplePaper("2", "B"))

	r := Relationship{SourcePaperID: b, TargetPaperID: a, RelationshipType: "improves_on",
		Explanation: "faster rendering", Confidence: 0.8, PriorConfidence: 0.45}
	id1, err := s.UpsertRelationship(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetRelationshipValidated(ctx, id1, true); err != nil {
		t.Fatal(err)
	}

	r.Confidence = 0.6
	id2, err := s.UpsertRelationship(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("same triple should upsert: %d vs %d", id1, id2)
	}

	rels, err := s.PaperRelationships(ctx, a, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].Confidence != 0.6 || rels[0].Validated {
		t.Fatalf("unexpected relationships: %+v", rels)
	}
	if rels[0].PriorConfidence != 0.45 {
		t.Errorf("prior = %v", rels[0].PriorConfidence)
	}

	high, _ := s.ListRelationships(ctx, 0.7)
	if len(high) != 0 {
		t.Fatalf("expected none above 0.7, got %d", len(high))
	}
}

func TestUpsertRelationshipRejectsSelfReference(t *testing.T) {
	s := newTestStore(t)
	a := mustPaper(t, s, samplePaper("1", "A"))
	_, err := s.UpsertRelationship(context.Background(), Relationship{SourcePaperID: a, TargetPaperID: a, RelationshipType: "cites", Confidence: 0.9})
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
}

func TestUpsertRelationshipStoresOutOfRangeConfidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustPaper(t, s, samplePaper("1", "A"))
	b := mustPaper(t, s, samplePaper("2", "B"))
	if _, err := s.UpsertRelationship(ctx, Relationship{SourcePaperID: a, TargetPaperID: b, RelationshipType: "cites", Confidence: 1.4}); err != nil {
		t.Fatalf("out-of-range confidence should be stored for validation: %v", err)
	}
}

func TestSetRelationshipValidatedNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetRelationshipValidated(context.Background(), 42, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

func TestStatisticsAndSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustPaper(t, s, samplePaper("1", "A"))
	b := mustPaper(t, s, samplePaper("2", "B"))
	if err := s.UpdatePaperText(ctx, a, "text"); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplacePaperConcepts(ctx, a, []ConceptWithRelevance{
		{Concept: Concept{Name: "NeRF", ConceptType: "method"}, Relevance: 0.8},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplacePaperConcepts(ctx, b, []ConceptWithRelevance{
		{Concept: Concept{Name: "NeRF", ConceptType: "method"}, Relevance: 0.6},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRelationship(ctx, Relationship{SourcePaperID: b, TargetPaperID: a, RelationshipType: "extends", Confidence: 0.7}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRelationship(ctx, Relationship{SourcePaperID: a, TargetPaperID: b, RelationshipType: "", Confidence: 0.2}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogExtraction(ctx, ExtractionLog{PaperID: b, Stage: StagePDFExtraction, Status: StatusFailed, ErrorMessage: "no pdf"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogExtraction(ctx, ExtractionLog{Stage: StageRelationshipExtraction, Status: StatusSuccess}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.TotalPapers != 2 || st.PapersWithText != 1 || st.PapersWithConcepts != 2 ||
		st.TotalConcepts != 1 || st.TotalRelationships != 2 || st.FailedExtractions != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.AvgRelationshipsPerPaper != 1 {
		t.Errorf("avg relationships per paper = %v", st.AvgRelationshipsPerPaper)
	}
	if len(st.ByType) != 2 || len(st.TopConcepts) != 1 || st.TopConcepts[0].MentionCount != 2 {
		t.Fatalf("unexpected breakdown: %+v / %+v", st.ByType, st.TopConcepts)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Concepts) != 1 || len(snap.Relationships) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if links := snap.Links[snap.Concepts[0].ID]; len(links) != 2 {
		t.Fatalf("expected 2 links, got %+v", links)
	}
}

func TestDeletePaperCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustPaper(t, s, samplePaper("1", "A"))
	b := mustPaper(t, s, samplePaper("2", "B"))
	if err := s.InsertPaperEmbedding(ctx, a, []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertRelationship(ctx, Relationship{SourcePaperID: b, TargetPaperID: a, RelationshipType: "cites", Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeletePaper(ctx, a); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if _, err := s.GetPaper(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("paper still present: %v", err)
	}
	rels, _ := s.ListRelationships(ctx, 0)
	if len(rels) != 0 {
		t.Fatalf("relationships should cascade, got %d", len(rels))
	}
	if err := s.DeletePaper(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
