// Package papergraph builds a knowledge graph of research papers and checks
// it for consistency. Papers are ingested from arXiv metadata and PDFs,
// concepts are extracted with a chat model, paper pairs that share
// concepts are classified into typed relationships whose confidence is
// anchored by a concept-overlap prior, and validation runs report every
// rule violation found in the stored graph.
package papergraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunobiangulo/papergraph/graph"
	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/metrics"
	"github.com/brunobiangulo/papergraph/parser"
	"github.com/brunobiangulo/papergraph/publish"
	"github.com/brunobiangulo/papergraph/report"
	"github.com/brunobiangulo/papergraph/retrieval"
	"github.com/brunobiangulo/papergraph/source"
	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/store/pgstore"
	"github.com/brunobiangulo/papergraph/validation"
)

// Engine is the main entry point for building and validating the graph.
type Engine interface {
	// Ingest stores a paper's metadata, extracts its PDF text and embeds
	// its abstract. Returns the paper ID. Text is not re-extracted when the
	// paper already has some, unless WithForceReparse is given.
	Ingest(ctx context.Context, meta source.Metadata, opts ...IngestOption) (int64, error)

	// IngestFile ingests a local PDF or text file without catalogue
	// metadata.
	IngestFile(ctx context.Context, path string, opts ...IngestOption) (int64, error)

	// IngestCatalog ingests every entry of a papers_metadata.json file.
	IngestCatalog(ctx context.Context, path string, opts ...IngestOption) (*IngestSummary, error)

	// ExtractConcepts runs concept extraction over papers.
	ExtractConcepts(ctx context.Context, opts ExtractOptions) (*graph.BatchResult, error)

	// DiscoverRelationships classifies candidate paper pairs.
	DiscoverRelationships(ctx context.Context, opts DiscoverOptions) (*graph.BatchResult, error)

	// Prior computes the concept-overlap prior of two stored papers without
	// calling the model.
	Prior(ctx context.Context, paperA, paperB int64) (*PriorEstimate, error)

	// Validate checks every stored concept and relationship.
	Validate(ctx context.Context, opts ValidateOptions) (*ValidationRun, error)

	Statistics(ctx context.Context) (*store.Statistics, error)
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)

	// Similar returns the papers whose abstract embeddings are nearest to
	// the given paper's.
	Similar(ctx context.Context, paperID int64, k int) ([]store.SearchResult, error)

	Lineage(ctx context.Context, q graph.LineageQuery) ([]graph.LineageNode, error)
	Clusters(ctx context.Context, minConfidence float64) ([]graph.Cluster, error)

	ListPapers(ctx context.Context) ([]store.Paper, error)
	GetPaper(ctx context.Context, id int64) (*store.Paper, error)
	PaperRelationships(ctx context.Context, paperID int64, minConfidence float64) ([]store.Relationship, error)

	// Publish mirrors the graph into Neo4j and the abstract embeddings into
	// Qdrant, for whichever of the two is configured.
	Publish(ctx context.Context) (*PublishResult, error)

	// Backend returns the underlying store for diagnostic access.
	Backend() store.Backend

	// Close cleanly shuts down the engine.
	Close() error
}

// ExtractOptions selects the papers for concept extraction.
type ExtractOptions struct {
	// PaperIDs limits extraction to these papers. Empty means every paper
	// that has no concepts yet.
	PaperIDs []int64
	// Redo re-extracts papers that already have concepts.
	Redo bool
}

// DiscoverOptions configures relationship discovery. Zero values take the
// configured extraction defaults.
type DiscoverOptions struct {
	MinShared    int
	MinRelevance float64
	MaxPairs     int
	// Redo re-classifies pairs that already have a relationship.
	Redo bool
	// Neighbours adds, for each paper, pairs with its k nearest papers by
	// abstract embedding when a vector index is available.
	Neighbours int
}

// ValidateOptions configures a validation run.
type ValidateOptions struct {
	OnlyIssues bool
	// Mark sets validated on every relationship that passed without a
	// review flag.
	Mark bool
}

// ValidationRun is the outcome of Validate.
type ValidationRun struct {
	Report *report.Report `json:"report"`
	Marked int            `json:"marked"`
}

// PriorEstimate is the concept-overlap prior of a paper pair.
type PriorEstimate struct {
	PaperA      int64                   `json:"paper_a"`
	PaperB      int64                   `json:"paper_b"`
	Shared      []validation.SharedItem `json:"shared"`
	SharedNames []string                `json:"shared_names"`
	Prior       float64                 `json:"prior"`
}

// SearchHit is a fused search result with a highlight snippet.
type SearchHit struct {
	store.SearchResult
	// Methods names the rankings that returned the paper: fts, vector.
	Methods []string `json:"methods,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
}

// PublishResult reports what Publish wrote.
type PublishResult struct {
	Graph   *publish.SyncStats `json:"graph,omitempty"`
	Vectors int                `json:"vectors"`
}

// Option configures New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	metrics    *metrics.Metrics
	publisher  publish.EventPublisher
	backend    store.Backend
	chat       llm.Provider
	embed      llm.Provider
}

// WithRegisterer registers engine metrics, and the PostgreSQL pool
// collector, on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithMetrics uses an existing metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventPublisher sends run and stage events to pub instead of the
// configured NATS server.
func WithEventPublisher(pub publish.EventPublisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithBackend uses b instead of opening the configured store. The engine
// closes it on Close.
func WithBackend(b store.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithProviders uses the given chat and embedding providers instead of
// building them from the configuration. Either may be nil.
func WithProviders(chat, embed llm.Provider) Option {
	return func(o *options) {
		o.chat = chat
		o.embed = embed
	}
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	backend   store.Backend
	vectors   store.VectorIndex
	qdrant    *publish.VectorSink
	cache     *llm.RedisCache
	embedLLM  llm.Provider
	parsers   *parser.Registry
	extractor *graph.ConceptExtractor
	relater   *graph.Relater
	metrics   *metrics.Metrics
	events    *publish.Emitter
}

// New creates an engine from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	m := o.metrics
	if m == nil && o.registerer != nil {
		m = metrics.New(o.registerer)
	}

	e := &engine{cfg: cfg, metrics: m, parsers: parser.NewRegistry()}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = openBackend(ctx, cfg, o.registerer)
		if err != nil {
			return nil, err
		}
	}
	e.backend = backend
	if vi, ok := backend.(store.VectorIndex); ok {
		e.vectors = vi
	}

	if cfg.Publish.Qdrant.Addr != "" {
		qc := cfg.Publish.Qdrant
		if qc.Dimension <= 0 {
			qc.Dimension = cfg.Storage.EmbeddingDim
		}
		sink, err := publish.NewVectorSink(ctx, qc)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.qdrant = sink
		if e.vectors == nil {
			e.vectors = sink
		}
	}

	chat, embed := o.chat, o.embed
	if chat == nil {
		p, err := llm.NewProvider(cfg.Chat)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		chat = p
	}
	if embed == nil && o.chat == nil && cfg.Embedding.Provider != "" {
		p, err := llm.NewProvider(cfg.Embedding)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		embed = p
	}

	if cfg.Cache.Addr != "" {
		c, err := llm.NewRedisCache(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			slog.Warn("engine: response cache unavailable", "addr", cfg.Cache.Addr, "error", err)
		} else {
			e.cache = c
			chat = llm.WithCache(chat, c, cfg.Chat.Model, cfg.Cache.TTL)
			if embed != nil {
				embed = llm.WithCache(embed, c, cfg.Embedding.Model, cfg.Cache.TTL)
			}
		}
	}
	chat = llm.Throttle(chat, cfg.Extraction.RequestDelay)
	if embed != nil {
		e.embedLLM = metrics.Instrument(embed, "embed", m)
	}

	var rec graph.Recorder
	if m != nil {
		rec = m
	}
	e.extractor = graph.NewConceptExtractor(backend, metrics.Instrument(chat, "extract", m), graph.ExtractorConfig{
		Concurrency:  cfg.Extraction.Concurrency,
		ItemTimeout:  cfg.Extraction.ItemTimeout,
		MaxTextChars: cfg.Extraction.MaxTextChars,
		Recorder:     rec,
	})
	e.relater = graph.NewRelater(backend, metrics.Instrument(chat, "relate", m), graph.RelaterConfig{
		Concurrency:  cfg.Extraction.Concurrency,
		ItemTimeout:  cfg.Extraction.ItemTimeout,
		MinRelevance: cfg.Extraction.MinRelevance,
		PriorWeight:  cfg.Extraction.PriorWeight,
		Recorder:     rec,
	})

	pub := o.publisher
	if pub == nil && cfg.Publish.NATSURL != "" {
		np, err := publish.NewNATSPublisher(cfg.Publish.NATSURL)
		if err != nil {
			slog.Warn("engine: event publishing disabled", "url", cfg.Publish.NATSURL, "error", err)
		} else {
			pub = np
		}
	}
	e.events = publish.NewEmitter(pub)

	return e, nil
}

func openBackend(ctx context.Context, cfg Config, reg prometheus.Registerer) (store.Backend, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		s, err := store.New(cfg.ResolveDBPath(), cfg.Storage.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		return s, nil
	case "postgres":
		pc := pgstore.ConfigFromEnv()
		if cfg.Storage.Postgres.URL != "" {
			pc.URL = cfg.Storage.Postgres.URL
		}
		if cfg.Storage.Postgres.MaxConns > 0 {
			pc.MaxConns = cfg.Storage.Postgres.MaxConns
		}
		if cfg.Storage.Postgres.MinConns > 0 {
			pc.MinConns = cfg.Storage.Postgres.MinConns
		}
		s, err := pgstore.Connect(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		if reg != nil {
			if err := metrics.RegisterPoolStats(reg, s.Pool()); err != nil {
				slog.Warn("engine: registering pool stats failed", "error", err)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Storage.Backend)
	}
}

func (e *engine) Backend() store.Backend { return e.backend }

// ExtractConcepts extracts concepts for the selected papers.
func (e *engine) ExtractConcepts(ctx context.Context, opts ExtractOptions) (*graph.BatchResult, error) {
	papers, err := e.selectPapers(ctx, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.extractor.ExtractAll(ctx, papers)
	e.emitStage(ctx, "extract", res, time.Since(start))
	if err != nil {
		return &res, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	return &res, nil
}

func (e *engine) selectPapers(ctx context.Context, opts ExtractOptions) ([]store.Paper, error) {
	if len(opts.PaperIDs) > 0 {
		papers := make([]store.Paper, 0, len(opts.PaperIDs))
		for _, id := range opts.PaperIDs {
			p, err := e.GetPaper(ctx, id)
			if err != nil {
				return nil, err
			}
			papers = append(papers, *p)
		}
		return papers, nil
	}

	all, err := e.backend.ListPapers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	if opts.Redo {
		return all, nil
	}
	var todo []store.Paper
	for _, p := range all {
		cs, err := e.backend.PaperConcepts(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("loading concepts of paper %d: %w", p.ID, err)
		}
		if len(cs) == 0 {
			todo = append(todo, p)
		}
	}
	return todo, nil
}

// DiscoverRelationships finds candidate pairs by shared concepts, and
// optionally by embedding proximity, and classifies them.
func (e *engine) DiscoverRelationships(ctx context.Context, opts DiscoverOptions) (*graph.BatchResult, error) {
	ex := e.cfg.Extraction
	if opts.MinShared <= 0 {
		opts.MinShared = ex.MinShared
	}
	if opts.MinRelevance <= 0 {
		opts.MinRelevance = ex.MinRelevance
	}
	if opts.MaxPairs <= 0 {
		opts.MaxPairs = ex.MaxPairs
	}

	pairs, err := e.backend.CandidatePairs(ctx, store.CandidateQuery{
		MinRelevance: opts.MinRelevance,
		MinShared:    opts.MinShared,
		Limit:        opts.MaxPairs,
		SkipExisting: !opts.Redo,
	})
	if err != nil {
		return nil, fmt.Errorf("finding candidate pairs: %w", err)
	}
	if opts.Neighbours > 0 {
		pairs, err = e.addNeighbourPairs(ctx, pairs, opts)
		if err != nil {
			return nil, err
		}
	}
	slog.Info("relate: candidate pairs selected", "pairs", len(pairs),
		"min_shared", opts.MinShared, "min_relevance", opts.MinRelevance)

	start := time.Now()
	res, err := e.relater.Relate(ctx, pairs)
	e.emitStage(ctx, "relate", res, time.Since(start))
	if err != nil {
		return &res, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	return &res, nil
}

func (e *engine) addNeighbourPairs(ctx context.Context, pairs []store.CandidatePair, opts DiscoverOptions) ([]store.CandidatePair, error) {
	if e.vectors == nil {
		slog.Warn("relate: no vector index, skipping neighbour pairs")
		return pairs, nil
	}
	type key struct{ a, b int64 }
	seen := make(map[key]bool, len(pairs))
	norm := func(a, b int64) key {
		if a > b {
			a, b = b, a
		}
		return key{a, b}
	}
	for _, p := range pairs {
		seen[norm(p.PaperA, p.PaperB)] = true
	}

	var existing map[key]bool
	if !opts.Redo {
		rels, err := e.backend.ListRelationships(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("listing relationships: %w", err)
		}
		existing = make(map[key]bool, len(rels))
		for _, r := range rels {
			existing[norm(r.SourcePaperID, r.TargetPaperID)] = true
		}
	}

	papers, err := e.backend.ListPapers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	added := 0
	for _, p := range papers {
		if len(pairs) >= opts.MaxPairs {
			break
		}
		near, err := e.vectors.SimilarPapers(ctx, p.ID, opts.Neighbours)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("finding neighbours of paper %d: %w", p.ID, err)
		}
		for _, n := range near {
			k := norm(p.ID, n.Paper.ID)
			if seen[k] || existing[k] {
				continue
			}
			seen[k] = true
			pairs = append(pairs, store.CandidatePair{PaperA: k.a, PaperB: k.b})
			added++
			if len(pairs) >= opts.MaxPairs {
				break
			}
		}
	}
	slog.Info("relate: added neighbour pairs", "added", added, "k", opts.Neighbours)
	return pairs, nil
}

func (e *engine) emitStage(ctx context.Context, stage string, res graph.BatchResult, elapsed time.Duration) {
	if err := e.events.EmitStage(ctx, stage, res.Total, res.Succeeded, res.Failed, elapsed); err != nil {
		slog.Warn("engine: publishing stage event failed", "stage", stage, "error", err)
	}
}

// Prior computes the prior from stored concept links.
func (e *engine) Prior(ctx context.Context, paperA, paperB int64) (*PriorEstimate, error) {
	a, err := e.backend.PaperConcepts(ctx, paperA)
	if err != nil {
		return nil, fmt.Errorf("loading concepts of paper %d: %w", paperA, err)
	}
	b, err := e.backend.PaperConcepts(ctx, paperB)
	if err != nil {
		return nil, fmt.Errorf("loading concepts of paper %d: %w", paperB, err)
	}

	names := make(map[int64]string, len(a))
	for _, c := range a {
		names[c.ID] = c.Name
	}
	shared := validation.SharedItems(weightedItems(a), weightedItems(b), e.cfg.Extraction.MinRelevance)
	est := &PriorEstimate{
		PaperA: paperA,
		PaperB: paperB,
		Shared: shared,
		Prior:  validation.EstimateConfidencePrior(shared),
	}
	for _, s := range shared {
		est.SharedNames = append(est.SharedNames, names[s.ID])
	}
	e.metrics.RecordPrior(est.Prior)
	return est, nil
}

func weightedItems(cs []store.ConceptWithRelevance) []validation.WeightedItem {
	out := make([]validation.WeightedItem, len(cs))
	for i, c := range cs {
		out[i] = validation.WeightedItem{ID: c.ID, Weight: c.Relevance}
	}
	return out
}

// Validate snapshots the store, validates every record, optionally marks
// the clean relationships as validated, and reports the run.
func (e *engine) Validate(ctx context.Context, opts ValidateOptions) (*ValidationRun, error) {
	start := time.Now()
	snap, err := e.backend.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	policy := e.cfg.Validation.Policy()
	rep, err := report.Build(ctx, snap, report.Options{
		Policy:      &policy,
		Concurrency: e.cfg.Validation.Concurrency,
		OnlyIssues:  opts.OnlyIssues,
	})
	if err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	run := &ValidationRun{Report: rep}
	if opts.Mark {
		for _, id := range rep.Markable() {
			if err := e.backend.SetRelationshipValidated(ctx, id, true); err != nil {
				return run, fmt.Errorf("marking relationship %d: %w", id, err)
			}
			run.Marked++
		}
	}

	e.metrics.ObserveReport(rep)
	if err := e.events.EmitReport(ctx, rep, run.Marked); err != nil {
		slog.Warn("engine: publishing validation events failed", "run_id", rep.RunID, "error", err)
	}
	slog.Info("validate: run complete",
		"run_id", rep.RunID,
		"entities", rep.EntitySummary.Total, "entities_valid", rep.EntitySummary.Valid,
		"relationships", rep.RelationshipSummary.Total, "relationships_valid", rep.RelationshipSummary.Valid,
		"flagged", rep.RelationshipSummary.Flagged, "marked", run.Marked,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return run, nil
}

func (e *engine) Statistics(ctx context.Context) (*store.Statistics, error) {
	return e.backend.Statistics(ctx)
}

// Search ranks papers by full-text match and, when a vector index and an
// embedding model are available, by abstract embedding distance to the
// query. The two rankings are fused with reciprocal rank fusion. Each hit
// carries the abstract sentences that best match the query.
func (e *engine) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	// Over-fetch so fusion can promote papers ranked low by one method.
	fetch := limit * 2

	fts, err := e.backend.SearchPapers(ctx, query, fetch)
	if err != nil {
		return nil, fmt.Errorf("searching papers: %w", err)
	}
	lists := []retrieval.Ranked{{Method: retrieval.MethodFTS, Weight: e.cfg.Search.FTSWeight, Results: fts}}
	if vec := e.vectorSearch(ctx, query, fetch); len(vec) > 0 {
		lists = append(lists, retrieval.Ranked{Method: retrieval.MethodVector, Weight: e.cfg.Search.VectorWeight, Results: vec})
	}

	fused := retrieval.Fuse(lists, limit)
	if len(fused) == 0 {
		return nil, ErrNoResults
	}
	words := significantWords(query)
	hits := make([]SearchHit, len(fused))
	for i, f := range fused {
		if f.Paper.Title == "" {
			// Qdrant results carry only the payload.
			if p, err := e.backend.GetPaper(ctx, f.Paper.ID); err == nil {
				f.Paper = *p
			}
		}
		hits[i] = SearchHit{
			SearchResult: f.SearchResult,
			Methods:      f.Methods,
			Snippet:      extractSnippet(f.Paper.Abstract, words),
		}
	}
	return hits, nil
}

// vectorSearch embeds the query and returns its nearest papers. Failures
// degrade the search to full text only.
func (e *engine) vectorSearch(ctx context.Context, query string, k int) []store.SearchResult {
	if e.vectors == nil || e.embedLLM == nil || e.cfg.Search.VectorWeight <= 0 {
		return nil
	}
	vecs, err := e.embedLLM.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		slog.Warn("search: embedding query failed, using full text only", "error", err)
		return nil
	}
	results, err := e.vectors.SimilarToVector(ctx, vecs[0], k)
	if err != nil {
		slog.Warn("search: vector search failed, using full text only", "error", err)
		return nil
	}
	return results
}

// Similar returns nearest papers by abstract embedding. Results from an
// external index are completed from the store.
func (e *engine) Similar(ctx context.Context, paperID int64, k int) ([]store.SearchResult, error) {
	if e.vectors == nil {
		return nil, ErrUnsupportedBackend
	}
	if _, err := e.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}
	results, err := e.vectors.SimilarPapers(ctx, paperID, k)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: paper %d has no embedding", ErrNoResults, paperID)
		}
		return nil, err
	}
	if _, native := e.vectors.(*store.Store); native {
		return results, nil
	}
	for i, r := range results {
		p, err := e.backend.GetPaper(ctx, r.Paper.ID)
		if err != nil {
			slog.Debug("similar: paper missing from store", "paper_id", r.Paper.ID, "error", err)
			continue
		}
		results[i].Paper = *p
	}
	return results, nil
}

func (e *engine) Lineage(ctx context.Context, q graph.LineageQuery) ([]graph.LineageNode, error) {
	if _, err := e.GetPaper(ctx, q.SeedID); err != nil {
		return nil, err
	}
	return graph.Lineage(ctx, e.backend, q)
}

func (e *engine) Clusters(ctx context.Context, minConfidence float64) ([]graph.Cluster, error) {
	return graph.DetectClusters(ctx, e.backend, minConfidence)
}

func (e *engine) ListPapers(ctx context.Context) ([]store.Paper, error) {
	return e.backend.ListPapers(ctx)
}

func (e *engine) GetPaper(ctx context.Context, id int64) (*store.Paper, error) {
	p, err := e.backend.GetPaper(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrPaperNotFound, id)
	}
	return p, err
}

func (e *engine) PaperRelationships(ctx context.Context, paperID int64, minConfidence float64) ([]store.Relationship, error) {
	if _, err := e.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}
	return e.backend.PaperRelationships(ctx, paperID, minConfidence)
}

// Publish syncs the graph to Neo4j and abstract embeddings to Qdrant.
func (e *engine) Publish(ctx context.Context) (*PublishResult, error) {
	nc := e.cfg.Publish.Neo4j
	if nc.URL == "" && e.qdrant == nil {
		return nil, fmt.Errorf("%w: no neo4j url or qdrant address configured", ErrInvalidConfig)
	}
	papers, err := e.backend.ListPapers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}

	res := &PublishResult{}
	if nc.URL != "" {
		snap, err := e.backend.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		sink, err := publish.NewGraphSink(ctx, nc)
		if err != nil {
			return nil, err
		}
		stats, err := sink.Sync(ctx, papers, snap)
		if cerr := sink.Close(context.WithoutCancel(ctx)); cerr != nil {
			slog.Warn("publish: closing neo4j driver failed", "error", cerr)
		}
		if err != nil {
			return nil, err
		}
		res.Graph = &stats
	}
	if e.qdrant != nil {
		n, err := e.embedPapers(ctx, papers, toQdrant)
		if err != nil {
			return res, err
		}
		res.Vectors = n
	}
	slog.Info("publish: complete", "papers", len(papers), "vectors", res.Vectors)
	return res, nil
}

// Close releases the store, the external sinks and the cache.
func (e *engine) Close() error {
	var errs []error
	if e.backend != nil {
		errs = append(errs, e.backend.Close())
	}
	if e.qdrant != nil {
		errs = append(errs, e.qdrant.Close())
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	if e.events != nil {
		errs = append(errs, e.events.Close())
	}
	return errors.Join(errs...)
}
