package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/graph"
	"github.com/brunobiangulo/papergraph/report"
	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

type fakeEngine struct {
	papergraph.Engine
	papers    map[int64]store.Paper
	ingested  []string
	validated []papergraph.ValidateOptions
	lineage   []graph.LineageQuery
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{papers: map[int64]store.Paper{
		1: {ID: 1, ArxivID: "2308.04079", Title: "3D Gaussian Splatting for Real-Time Radiance Field Rendering", IsSeminal: true},
		2: {ID: 2, ArxivID: "2311.16493", Title: "Mip-Splatting: Alias-free 3D Gaussian Splatting"},
	}}
}

func (f *fakeEngine) GetPaper(_ context.Context, id int64) (*store.Paper, error) {
	p, ok := f.papers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", papergraph.ErrPaperNotFound, id)
	}
	return &p, nil
}

func (f *fakeEngine) ListPapers(context.Context) ([]store.Paper, error) {
	return []store.Paper{f.papers[1], f.papers[2]}, nil
}

func (f *fakeEngine) IngestFile(_ context.Context, path string, _ ...papergraph.IngestOption) (int64, error) {
	if !strings.HasSuffix(path, ".pdf") {
		return 0, papergraph.ErrUnsupportedFormat
	}
	f.ingested = append(f.ingested, path)
	return 3, nil
}

func (f *fakeEngine) Prior(_ context.Context, a, b int64) (*papergraph.PriorEstimate, error) {
	if _, ok := f.papers[a]; !ok {
		return nil, fmt.Errorf("%w: %d", papergraph.ErrPaperNotFound, a)
	}
	shared := []validation.SharedItem{{ID: 7, AvgWeight: 0.9}, {ID: 8, AvgWeight: 0.6}}
	return &papergraph.PriorEstimate{PaperA: a, PaperB: b, Shared: shared, Prior: validation.EstimateConfidencePrior(shared)}, nil
}

func (f *fakeEngine) Validate(ctx context.Context, opts papergraph.ValidateOptions) (*papergraph.ValidationRun, error) {
	f.validated = append(f.validated, opts)
	rep, err := report.Build(ctx, &store.Snapshot{
		Concepts: []store.Concept{{ID: 1, Name: "approach", ConceptType: "method", MentionCount: 1}},
	}, report.Options{OnlyIssues: opts.OnlyIssues})
	if err != nil {
		return nil, err
	}
	return &papergraph.ValidationRun{Report: rep}, nil
}

func (f *fakeEngine) PaperRelationships(ctx context.Context, id int64, minConf float64) ([]store.Relationship, error) {
	if _, err := f.GetPaper(ctx, id); err != nil {
		return nil, err
	}
	rels := []store.Relationship{
		{ID: 1, SourcePaperID: 2, TargetPaperID: 1, RelationshipType: "improves_on", Confidence: 0.9},
		{ID: 2, SourcePaperID: 2, TargetPaperID: 1, RelationshipType: "cites", Confidence: 0.4},
	}
	var out []store.Relationship
	for _, r := range rels {
		if r.Confidence >= minConf {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeEngine) Similar(context.Context, int64, int) ([]store.SearchResult, error) {
	return nil, papergraph.ErrUnsupportedBackend
}

func (f *fakeEngine) Lineage(_ context.Context, q graph.LineageQuery) ([]graph.LineageNode, error) {
	f.lineage = append(f.lineage, q)
	return []graph.LineageNode{{PaperID: q.SeedID}}, nil
}

func (f *fakeEngine) Search(_ context.Context, q string, _ int) ([]papergraph.SearchHit, error) {
	if q == "nothing" {
		return nil, papergraph.ErrNoResults
	}
	return []papergraph.SearchHit{{SearchResult: store.SearchResult{Paper: f.papers[1], Score: 1.5}, Snippet: "splatting"}}, nil
}

func (f *fakeEngine) Statistics(context.Context) (*store.Statistics, error) {
	return &store.Statistics{TotalPapers: 2}, nil
}

func newTestServer(t *testing.T, eng papergraph.Engine, apiKey string) http.Handler {
	t.Helper()
	return newServer(eng, papergraph.DefaultConfig(), prometheus.NewRegistry(), apiKey, "https://graph.example.org")
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "secret")

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "papergraph_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="GET /health"`)
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "secret")

	rec := do(t, h, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[store.Statistics](t, rec).TotalPapers)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	req := httptest.NewRequest(http.MethodOptions, "/prior", nil)
	req.Header.Set("Origin", "https://graph.example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://graph.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[map[string]string](t, rec)["error"])
}

func TestPrior(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	tests := []struct {
		name     string
		body     string
		wantCode int
		want     float64
	}{
		{"shared weights", `{"shared": [0.9, 0.8, 0.45]}`, http.StatusOK, 0.34},
		{"empty shared list", `{"shared": []}`, http.StatusOK, 0.30},
		{"stored papers", `{"paper_a": 1, "paper_b": 2}`, http.StatusOK, 0.30},
		{"unknown paper", `{"paper_a": 9, "paper_b": 2}`, http.StatusNotFound, 0},
		{"missing fields", `{}`, http.StatusBadRequest, 0},
		{"bad json", `{`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/prior", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				est := decode[papergraph.PriorEstimate](t, rec)
				assert.InDelta(t, tt.want, est.Prior, 1e-9)
			}
		})
	}
}

func TestValidateEntity(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	rec := do(t, h, http.MethodPost, "/validate/entity", `{"name": "method", "category": "method", "mention_count": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	single := decode[validation.EntityResult](t, rec)
	assert.False(t, single.IsValid)
	require.NotEmpty(t, single.Issues)
	assert.Equal(t, validation.RuleGenericTerm, single.Issues[0].Rule)

	rec = do(t, h, http.MethodPost, "/validate/entity", `[
		{"name": "Gaussian Splatting", "category": "method", "mention_count": 1, "links": [{"id": 1, "weight": 0.9}]},
		{"name": "approach", "category": "method", "mention_count": 1}
	]`)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[struct {
		Results []validation.EntityResult `json:"results"`
		Summary validation.EntitySummary  `json:"summary"`
	}](t, rec)
	require.Len(t, batch.Results, 2)
	assert.True(t, batch.Results[0].IsValid)
	assert.Equal(t, 2, batch.Summary.Total)
	assert.Equal(t, 1, batch.Summary.Invalid)

	rec = do(t, h, http.MethodPost, "/validate/entity", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateRelationship(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	rec := do(t, h, http.MethodPost, "/validate/relationship",
		`{"source_id": 2, "target_id": 1, "kind": "improves_on", "confidence": 0.9, "explanation": "Improves anti-aliasing over the original splatting renderer."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[validation.RelationshipResult](t, rec)
	assert.True(t, res.IsValid)
	assert.False(t, res.ShouldFlagForReview)

	rec = do(t, h, http.MethodPost, "/validate/relationship",
		`{"source_id": 1, "target_id": 1, "kind": "extends", "confidence": 0.9, "explanation": "Extends itself in a way that cannot be true."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[validation.RelationshipResult](t, rec)
	assert.False(t, res.IsValid)

	rec = do(t, h, http.MethodPost, "/validate/relationship",
		`{"source_id": 2, "target_id": 1, "kind": "supersedes", "confidence": 0.9, "explanation": "Supersedes the earlier method."}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown relationship kind")
}

func TestValidateRelationshipKindSpelling(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")
	const explanation = "A improves accuracy over B on every benchmark"

	tests := []struct {
		kind       string
		confidence float64
		wantRules  []string
		wantFlag   bool
	}{
		{"Improves_On", 0.9, nil, false},
		{" EXTENDS ", 0.9, []string{validation.RuleTypeExplanationMismatch}, true},
		{"none", 0.2, []string{validation.RuleConfidenceLow, validation.RuleConfidenceVeryLow, validation.RuleNullKindLowConfidence}, true},
		{"null", 0.8, []string{validation.RuleNullKindHighConfidence}, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			body := fmt.Sprintf(`{"source_id": 2, "target_id": 1, "kind": %q, "confidence": %v, "explanation": %q}`,
				tt.kind, tt.confidence, explanation)
			rec := do(t, h, http.MethodPost, "/validate/relationship", body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			res := decode[validation.RelationshipResult](t, rec)
			rules := make([]string, 0, len(res.Issues))
			for _, is := range res.Issues {
				rules = append(rules, is.Rule)
			}
			assert.ElementsMatch(t, tt.wantRules, rules)
			assert.True(t, res.IsValid)
			assert.Equal(t, tt.wantFlag, res.ShouldFlagForReview)
		})
	}

	rec := do(t, h, http.MethodPost, "/validate/relationship",
		`[{"source_id": 2, "target_id": 1, "kind": "cites", "confidence": 0.9, "explanation": "Cites the earlier paper in related work."},
		  {"source_id": 3, "target_id": 1, "kind": "contradicts", "confidence": 0.9, "explanation": "Contradicts the findings of the earlier paper."}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "one unknown kind rejects the batch")
}

func TestValidateStore(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, "")

	rec := do(t, h, http.MethodPost, "/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[struct {
		Report struct {
			EntitySummary validation.EntitySummary `json:"entity_summary"`
		} `json:"report"`
	}](t, rec)
	assert.Equal(t, 1, run.Report.EntitySummary.Invalid)

	rec = do(t, h, http.MethodPost, "/validate", `{"only_issues": true, "mark": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eng.validated, 2)
	assert.Equal(t, papergraph.ValidateOptions{}, eng.validated[0])
	assert.Equal(t, papergraph.ValidateOptions{OnlyIssues: true, Mark: true}, eng.validated[1])
}

func TestPaperRoutes(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	rec := do(t, h, http.MethodGet, "/papers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]store.Paper](t, rec)["papers"], 2)

	rec = do(t, h, http.MethodGet, "/papers/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2308.04079", decode[store.Paper](t, rec).ArxivID)

	rec = do(t, h, http.MethodGet, "/papers/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/papers/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/papers/1/relationships?min_confidence=0.5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rels := decode[map[string][]store.Relationship](t, rec)["relationships"]
	require.Len(t, rels, 1)
	assert.Equal(t, "improves_on", rels[0].RelationshipType)

	rec = do(t, h, http.MethodGet, "/papers/1/relationships?min_confidence=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/papers/1/similar", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestLineage(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, "")

	rec := do(t, h, http.MethodGet, "/papers/1/lineage?direction=descendants&depth=2&kind=builds_on&kind=extends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eng.lineage, 1)
	q := eng.lineage[0]
	assert.Equal(t, graph.Descendants, q.Direction)
	assert.Equal(t, 2, q.MaxDepth)
	assert.Equal(t, []validation.RelationKind{validation.KindBuildsOn, validation.KindExtends}, q.Kinds)

	rec = do(t, h, http.MethodGet, "/papers/1/lineage?direction=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	rec := do(t, h, http.MethodGet, "/search?q=splatting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hits := decode[map[string][]papergraph.SearchHit](t, rec)["hits"]
	require.Len(t, hits, 1)
	assert.Equal(t, "splatting", hits[0].Snippet)

	rec = do(t, h, http.MethodGet, "/search?q=nothing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]papergraph.SearchHit](t, rec)["hits"])

	rec = do(t, h, http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestUpload(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(t, eng, "")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "../../2401.00001.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "2401.00001.pdf", got["filename"])
	assert.EqualValues(t, 3, got["paper_id"])
	require.Len(t, eng.ingested, 1)
	assert.NotContains(t, eng.ingested[0], "..")
}

func TestIngestPath(t *testing.T) {
	h := newTestServer(t, newFakeEngine(), "")

	rec := do(t, h, http.MethodPost, "/ingest", `{"path": "/does/not/exist.pdf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk")
	assert.Equal(t, "gsk", providerKey("groq", ""))
	assert.Equal(t, "explicit", providerKey("groq", "explicit"))
	assert.Empty(t, providerKey("ollama", ""))
}
