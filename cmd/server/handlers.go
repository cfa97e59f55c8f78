package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/graph"
	"github.com/brunobiangulo/papergraph/validation"
)

type handler struct {
	engine papergraph.Engine
	policy validation.Policy
}

func newHandler(e papergraph.Engine, policy validation.Policy) *handler {
	return &handler{engine: e, policy: policy}
}

// POST /ingest
// Accepts a multipart file upload or JSON with a file path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// The file name carries the arXiv ID, so keep it but strip any path.
			safeName := filepath.Base(header.Filename)
			tmpDir, err := os.MkdirTemp("", "papergraph-upload-")
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("server: creating upload dir", "error", err)
				return
			}
			defer os.RemoveAll(tmpDir)

			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("server: creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("server: saving uploaded file", "error", err)
				return
			}
			dst.Close()

			id, err := h.engine.IngestFile(ctx, tmpPath, papergraph.WithForceReparse())
			if err != nil {
				writeEngineError(w, "ingestion failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"paper_id": id,
				"filename": safeName,
			})
			return
		}
	}

	var req struct {
		Path    string `json:"path"`
		Force   bool   `json:"force,omitempty"`
		NoEmbed bool   `json:"no_embed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []papergraph.IngestOption
	if req.Force {
		opts = append(opts, papergraph.WithForceReparse())
	}
	if req.NoEmbed {
		opts = append(opts, papergraph.WithoutEmbedding())
	}
	id, err := h.engine.IngestFile(ctx, absPath, opts...)
	if err != nil {
		writeEngineError(w, "ingestion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paper_id": id,
		"path":     absPath,
	})
}

// POST /prior
// Takes either two stored paper IDs or the mean weights of the shared
// concepts.
func (h *handler) handlePrior(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaperA int64     `json:"paper_a"`
		PaperB int64     `json:"paper_b"`
		Shared []float64 `json:"shared"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Shared != nil {
		items := make([]validation.SharedItem, len(req.Shared))
		for i, wgt := range req.Shared {
			items[i] = validation.SharedItem{ID: int64(i + 1), AvgWeight: wgt}
		}
		writeJSON(w, http.StatusOK, papergraph.PriorEstimate{
			Shared: items,
			Prior:  validation.EstimateConfidencePrior(items),
		})
		return
	}
	if req.PaperA == 0 || req.PaperB == 0 {
		writeError(w, http.StatusBadRequest, "paper_a and paper_b, or shared, are required")
		return
	}

	est, err := h.engine.Prior(r.Context(), req.PaperA, req.PaperB)
	if err != nil {
		writeEngineError(w, "prior failed", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// entityRequest is one concept to validate, with its parent-paper links.
type entityRequest struct {
	validation.Entity
	Links []validation.WeightedItem `json:"links"`
}

// POST /validate/entity
// Accepts one entity or an array and answers in kind.
func (h *handler) handleValidateEntity(w http.ResponseWriter, r *http.Request) {
	var reqs []entityRequest
	single, err := decodeOneOrMany(r.Body, &reqs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "no records")
		return
	}

	results := make([]validation.EntityResult, len(reqs))
	for i, e := range reqs {
		results[i] = validation.ValidateEntity(e.Entity, e.Links)
	}
	if single {
		writeJSON(w, http.StatusOK, results[0])
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": validation.SummarizeEntities(results),
	})
}

// POST /validate/relationship
func (h *handler) handleValidateRelationship(w http.ResponseWriter, r *http.Request) {
	var reqs []validation.Relationship
	single, err := decodeOneOrMany(r.Body, &reqs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "no records")
		return
	}

	results := make([]validation.RelationshipResult, len(reqs))
	for i, rel := range reqs {
		results[i] = h.policy.ValidateRelationship(rel)
	}
	if single {
		writeJSON(w, http.StatusOK, results[0])
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": validation.SummarizeRelationships(results),
	})
}

// POST /validate
// Validates the whole store.
func (h *handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var opts papergraph.ValidateOptions
	if r.ContentLength != 0 {
		var req struct {
			OnlyIssues bool `json:"only_issues"`
			Mark       bool `json:"mark"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		opts = papergraph.ValidateOptions{OnlyIssues: req.OnlyIssues, Mark: req.Mark}
	}

	run, err := h.engine.Validate(ctx, opts)
	if err != nil {
		writeEngineError(w, "validation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET /papers
func (h *handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.engine.ListPapers(r.Context())
	if err != nil {
		writeEngineError(w, "failed to list papers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

// GET /papers/{id}
func (h *handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.engine.GetPaper(r.Context(), id)
	if err != nil {
		writeEngineError(w, "failed to load paper", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /papers/{id}/relationships?min_confidence=
func (h *handler) handlePaperRelationships(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	minConf, ok := queryFloat(w, r, "min_confidence", 0)
	if !ok {
		return
	}
	rels, err := h.engine.PaperRelationships(r.Context(), id, minConf)
	if err != nil {
		writeEngineError(w, "failed to load relationships", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

// GET /papers/{id}/similar?k=
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	k, ok := queryInt(w, r, "k", 10)
	if !ok {
		return
	}
	results, err := h.engine.Similar(r.Context(), id, k)
	if err != nil {
		writeEngineError(w, "similarity search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GET /papers/{id}/lineage?direction=&depth=&min_confidence=
func (h *handler) handleLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := graph.LineageQuery{SeedID: id, Direction: graph.Ancestors, MaxDepth: 3}
	if d := r.URL.Query().Get("direction"); d != "" {
		q.Direction = graph.Direction(d)
	}
	switch q.Direction {
	case graph.Ancestors, graph.Descendants, graph.Both:
	default:
		writeError(w, http.StatusBadRequest, "direction must be ancestors, descendants or both")
		return
	}
	if q.MaxDepth, ok = queryInt(w, r, "depth", q.MaxDepth); !ok {
		return
	}
	if q.MinConfidence, ok = queryFloat(w, r, "min_confidence", 0); !ok {
		return
	}
	for _, k := range r.URL.Query()["kind"] {
		kind, err := validation.ParseRelationKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Kinds = append(q.Kinds, kind)
	}

	nodes, err := h.engine.Lineage(r.Context(), q)
	if err != nil {
		writeEngineError(w, "lineage failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// GET /search?q=&limit=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, ok := queryInt(w, r, "limit", 10)
	if !ok {
		return
	}
	if limit > 100 {
		limit = 100
	}
	hits, err := h.engine.Search(r.Context(), query, limit)
	if err != nil && !errors.Is(err, papergraph.ErrNoResults) {
		writeEngineError(w, "search failed", err)
		return
	}
	if hits == nil {
		hits = []papergraph.SearchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

// GET /clusters?min_confidence=
func (h *handler) handleClusters(w http.ResponseWriter, r *http.Request) {
	minConf, ok := queryFloat(w, r, "min_confidence", 0.5)
	if !ok {
		return
	}
	clusters, err := h.engine.Clusters(r.Context(), minConf)
	if err != nil {
		writeEngineError(w, "clustering failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Statistics(r.Context())
	if err != nil {
		writeEngineError(w, "failed to load statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// decodeOneOrMany decodes a JSON object or array of objects into out,
// which must point to a slice. single reports whether the body was one
// object. Unknown kinds and categories fail here.
func decodeOneOrMany(body io.Reader, out any) (single bool, err error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return false, errors.New("invalid JSON")
	}
	if len(raw) > 0 && raw[0] != '[' {
		single = true
		raw = append(append(json.RawMessage{'['}, raw...), ']')
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("invalid record: %v", err)
	}
	return single, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid paper id")
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}

func queryFloat(w http.ResponseWriter, r *http.Request, key string, def float64) (float64, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return f, true
}

// writeEngineError maps engine errors to status codes and logs the
// unexpected ones.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, papergraph.ErrPaperNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, papergraph.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, papergraph.ErrUnsupportedBackend):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, papergraph.ErrNoResults):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, msg)
	default:
		slog.Error("server: "+msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
