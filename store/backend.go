package store

import "context"

// Backend is the storage surface shared by the SQLite store and the
// PostgreSQL store.
type Backend interface {
	UpsertPaper(ctx context.Context, p Paper) (int64, error)
	GetPaper(ctx context.Context, id int64) (*Paper, error)
	GetPaperByArxivID(ctx context.Context, arxivID string) (*Paper, error)
	ListPapers(ctx context.Context) ([]Paper, error)
	UpdatePaperText(ctx context.Context, id int64, text string) error
	DeletePaper(ctx context.Context, id int64) error
	SearchPapers(ctx context.Context, query string, limit int) ([]SearchResult, error)

	UpsertConcept(ctx context.Context, c Concept) (int64, error)
	LinkPaperConcept(ctx context.Context, pc PaperConcept) error
	ReplacePaperConcepts(ctx context.Context, paperID int64, concepts []ConceptWithRelevance) error
	PaperConcepts(ctx context.Context, paperID int64) ([]ConceptWithRelevance, error)
	ListConcepts(ctx context.Context) ([]Concept, error)
	SharedConcepts(ctx context.Context, paperA, paperB int64, minRelevance float64) ([]SharedConcept, error)
	CandidatePairs(ctx context.Context, q CandidateQuery) ([]CandidatePair, error)

	UpsertRelationship(ctx context.Context, r Relationship) (int64, error)
	ListRelationships(ctx context.Context, minConfidence float64) ([]Relationship, error)
	PaperRelationships(ctx context.Context, paperID int64, minConfidence float64) ([]Relationship, error)
	SetRelationshipValidated(ctx context.Context, id int64, validated bool) error

	LogExtraction(ctx context.Context, l ExtractionLog) error
	Statistics(ctx context.Context) (*Statistics, error)
	Snapshot(ctx context.Context) (*Snapshot, error)

	Close() error
}

// VectorIndex is implemented by backends that can store paper embeddings.
type VectorIndex interface {
	InsertPaperEmbedding(ctx context.Context, paperID int64, embedding []float32) error
	SimilarPapers(ctx context.Context, paperID int64, k int) ([]SearchResult, error)
	SimilarToVector(ctx context.Context, embedding []float32, k int) ([]SearchResult, error)
}

var (
	_ Backend     = (*Store)(nil)
	_ VectorIndex = (*Store)(nil)
)
