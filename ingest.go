package papergraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brunobiangulo/papergraph/parser"
	"github.com/brunobiangulo/papergraph/source"
	"github.com/brunobiangulo/papergraph/store"
)

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse bool
	skipEmbed    bool
}

// WithForceReparse re-extracts text even when the paper already has some.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithoutEmbedding skips the abstract embedding.
func WithoutEmbedding() IngestOption {
	return func(o *ingestOptions) { o.skipEmbed = true }
}

// IngestSummary reports a catalogue ingestion.
type IngestSummary struct {
	Total         int      `json:"total"`
	Ingested      int      `json:"ingested"`
	TextExtracted int      `json:"text_extracted"`
	Failed        int      `json:"failed"`
	Embedded      int      `json:"embedded"`
	Errors        []string `json:"errors,omitempty"`
}

// localIDPrefix marks papers ingested from files without an arXiv ID.
const localIDPrefix = "local:"

// maxEmbedChars caps the text sent to the embedding model.
const maxEmbedChars = 8000

// Ingest stores meta and extracts the text of its local PDF.
func (e *engine) Ingest(ctx context.Context, meta source.Metadata, opts ...IngestOption) (int64, error) {
	id, _, err := e.ingest(ctx, meta, opts...)
	return id, err
}

func (e *engine) ingest(ctx context.Context, meta source.Metadata, opts ...IngestOption) (int64, bool, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}
	if !strings.HasPrefix(meta.ArxivID, localIDPrefix) {
		meta.ArxivID = source.NormalizeArxivID(meta.ArxivID)
	}
	if meta.ArxivID == "" {
		return 0, false, ErrMissingArxivID
	}

	hadText := false
	existing, err := e.backend.GetPaperByArxivID(ctx, meta.ArxivID)
	switch {
	case err == nil:
		hadText = existing.HasText
	case !errors.Is(err, store.ErrNotFound):
		return 0, false, fmt.Errorf("looking up paper %s: %w", meta.ArxivID, err)
	}

	paper := meta.Paper()
	id, err := e.backend.UpsertPaper(ctx, paper)
	if err != nil {
		return 0, false, fmt.Errorf("upserting paper %s: %w", meta.ArxivID, err)
	}
	paper.ID = id

	extracted := false
	if meta.LocalPDFPath != "" && (options.forceReparse || !hadText) {
		if err := e.extractText(ctx, id, meta.LocalPDFPath); err != nil {
			return id, false, err
		}
		extracted = true
	}

	if !options.skipEmbed {
		if _, err := e.embedPapers(ctx, []store.Paper{paper}, toAll); err != nil {
			slog.Warn("ingest: embedding failed (non-fatal)", "arxiv_id", meta.ArxivID, "error", err)
		}
	}
	return id, extracted, nil
}

// extractText parses path, stores its text and logs the outcome.
func (e *engine) extractText(ctx context.Context, paperID int64, path string) error {
	slog.Info("ingest: extracting text", "paper_id", paperID, "file", filepath.Base(path))
	start := time.Now()

	doc, err := e.parsers.Parse(ctx, path)
	if err == nil && strings.TrimSpace(doc.Text) == "" {
		err = parser.ErrNoText
	}
	if err == nil {
		err = e.backend.UpdatePaperText(ctx, paperID, doc.Text)
	}

	entry := store.ExtractionLog{
		PaperID:         paperID,
		Stage:           store.StagePDFExtraction,
		Status:          store.StatusSuccess,
		DurationSeconds: time.Since(start).Seconds(),
	}
	if err != nil {
		entry.Status = store.StatusFailed
		entry.ErrorMessage = err.Error()
	}
	if logErr := e.backend.LogExtraction(context.WithoutCancel(ctx), entry); logErr != nil {
		slog.Warn("ingest: writing extraction log failed", "paper_id", paperID, "error", logErr)
	}

	switch {
	case err == nil:
	case errors.Is(err, parser.ErrNoText):
		return fmt.Errorf("%w: %s", ErrNoText, path)
	case errors.Is(err, parser.ErrUnsupportedFormat):
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	default:
		return fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	stats := doc.Stats()
	slog.Info("ingest: text extracted",
		"paper_id", paperID, "method", doc.Method,
		"pages", stats.Pages, "words", stats.Words, "sections", len(doc.Sections),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// IngestFile ingests a local file. The file name, minus extension, is
// taken as the arXiv ID when it looks like one; otherwise the paper gets a
// "local:" ID. The title comes from the parsed document.
func (e *engine) IngestFile(ctx context.Context, path string, opts ...IngestOption) (int64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	meta := source.Metadata{
		ArxivID:        localArxivID(base),
		Title:          base,
		LocalPDFPath:   abs,
		SearchStrategy: "local_file",
	}
	if doc, err := e.parsers.Parse(ctx, abs); err == nil && doc.Title != "" {
		meta.Title = doc.Title
	}
	return e.Ingest(ctx, meta, opts...)
}

func localArxivID(base string) string {
	id := source.NormalizeArxivID(strings.ReplaceAll(base, "_", "/"))
	if looksLikeArxivID(id) {
		return id
	}
	return localIDPrefix + base
}

// looksLikeArxivID accepts new-style IDs (2301.12345) and old-style IDs
// (cs/0112017).
func looksLikeArxivID(id string) bool {
	if before, after, ok := strings.Cut(id, "/"); ok {
		return before != "" && len(after) == 7 && allDigits(after)
	}
	before, after, ok := strings.Cut(id, ".")
	return ok && len(before) == 4 && allDigits(before) && (len(after) == 4 || len(after) == 5) && allDigits(after)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// IngestCatalog ingests a metadata catalogue, then embeds every ingested
// abstract in batches.
func (e *engine) IngestCatalog(ctx context.Context, path string, opts ...IngestOption) (*IngestSummary, error) {
	entries, err := source.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	sum := &IngestSummary{Total: len(entries)}
	start := time.Now()
	var ingested []store.Paper
	for _, m := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		id, extracted, err := e.ingest(ctx, m, append(opts, WithoutEmbedding())...)
		if id != 0 {
			sum.Ingested++
			p := m.Paper()
			p.ID = id
			ingested = append(ingested, p)
		}
		if extracted {
			sum.TextExtracted++
		}
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", m.ArxivID, err))
			slog.Warn("ingest: paper failed", "arxiv_id", m.ArxivID, "error", err)
		}
	}

	if !options.skipEmbed {
		n, err := e.embedPapers(ctx, ingested, toAll)
		if err != nil {
			slog.Warn("ingest: embedding failed (non-fatal)", "error", err)
		}
		sum.Embedded = n
	}

	slog.Info("ingest: catalogue complete",
		"total", sum.Total, "ingested", sum.Ingested, "text", sum.TextExtracted,
		"failed", sum.Failed, "embedded", sum.Embedded,
		"elapsed", time.Since(start).Round(time.Millisecond))
	if err := e.events.EmitStage(ctx, "ingest", sum.Total, sum.Ingested, sum.Failed, time.Since(start)); err != nil {
		slog.Warn("engine: publishing stage event failed", "stage", "ingest", "error", err)
	}
	if sum.Total > 0 && sum.Ingested == 0 {
		return sum, fmt.Errorf("all %d catalogue entries failed", sum.Total)
	}
	return sum, nil
}

// embedTarget selects where embedPapers writes.
type embedTarget int

const (
	toAll embedTarget = iota
	toQdrant
)

// embedPapers embeds title and abstract of each paper in batches and
// stores the vectors in the native index and Qdrant. A failed batch falls
// back to one request per paper so a single oversized text does not lose
// the batch. Returns the number of papers stored.
func (e *engine) embedPapers(ctx context.Context, papers []store.Paper, target embedTarget) (int, error) {
	native, hasNative := e.backend.(store.VectorIndex)
	if target == toQdrant {
		hasNative = false
	}
	if e.embedLLM == nil || (!hasNative && e.qdrant == nil) {
		return 0, nil
	}

	var todo []store.Paper
	for _, p := range papers {
		if embedText(p) != "" {
			todo = append(todo, p)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	const batchSize = 32
	stored, failed := 0, 0
	save := func(batch []store.Paper, vecs [][]float32) {
		if hasNative {
			for i, p := range batch {
				if err := native.InsertPaperEmbedding(ctx, p.ID, vecs[i]); err != nil {
					slog.Warn("ingest: storing embedding failed", "paper_id", p.ID, "error", err)
					failed++
					continue
				}
				stored++
			}
		}
		if e.qdrant != nil {
			if err := e.qdrant.UpsertPapers(ctx, batch, vecs); err != nil {
				slog.Warn("ingest: qdrant upsert failed", "papers", len(batch), "error", err)
				if !hasNative {
					failed += len(batch)
				}
			} else if !hasNative {
				stored += len(batch)
			}
		}
	}

	for i := 0; i < len(todo); i += batchSize {
		end := min(i+batchSize, len(todo))
		batch := todo[i:end]
		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = embedText(p)
		}

		vecs, err := e.embedLLM.Embed(ctx, texts)
		if err == nil && len(vecs) == len(batch) {
			save(batch, vecs)
			continue
		}
		slog.Warn("ingest: embedding batch failed, falling back to individual",
			"batch_start", i, "batch_end", end, "error", err)
		for j, text := range texts {
			single, serr := e.embedLLM.Embed(ctx, []string{text})
			if serr != nil || len(single) == 0 || len(single[0]) == 0 {
				slog.Warn("ingest: embedding single paper failed", "paper_id", batch[j].ID, "error", serr)
				failed++
				continue
			}
			save(batch[j:j+1], single[:1])
		}
	}

	if stored == 0 && failed > 0 {
		return 0, fmt.Errorf("%w: all %d papers failed", ErrEmbeddingFailed, len(todo))
	}
	if failed > 0 {
		slog.Warn("ingest: some embeddings failed", "failed", failed, "total", len(todo))
	}
	return stored, nil
}

// embedText is the text embedded for a paper: its title and abstract.
func embedText(p store.Paper) string {
	text := strings.TrimSpace(p.Title + "\n\n" + p.Abstract)
	if len(text) <= maxEmbedChars {
		return text
	}
	text = text[:maxEmbedChars]
	for !utf8.ValidString(text) {
		text = text[:len(text)-1]
	}
	return text
}
