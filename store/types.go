package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrUnsupported is returned by backends that lack an optional feature.
	ErrUnsupported = errors.New("store: operation not supported by backend")
)

// Pipeline stages recorded in extraction_logs.
const (
	StagePDFExtraction          = "pdf_extraction"
	StageEntityExtraction       = "entity_extraction"
	StageRelationshipExtraction = "relationship_extraction"
)

// Statuses recorded in extraction_logs.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusInProgress = "in_progress"
)

// Paper represents a row in the papers table.
type Paper struct {
	ID                int64    `json:"id"`
	ArxivID           string   `json:"arxiv_id"`
	Title             string   `json:"title"`
	Abstract          string   `json:"abstract,omitempty"`
	Authors           []string `json:"authors,omitempty"`
	PublishedDate     string   `json:"published_date,omitempty"`
	PDFPath           string   `json:"pdf_path,omitempty"`
	FullText          string   `json:"-"`
	IsSeminal         bool     `json:"is_seminal"`
	CitesSeminal      bool     `json:"cites_seminal"`
	SemanticScholarID string   `json:"semantic_scholar_id,omitempty"`
	CitationCount     int      `json:"citation_count"`
	ProcessedAt       string   `json:"processed_at,omitempty"`
	HasText           bool     `json:"has_text"`
}

// Concept represents a row in the concepts table.
type Concept struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ConceptType  string `json:"concept_type"`
	MentionCount int    `json:"mention_count"`
}

// PaperConcept links a paper to a concept.
type PaperConcept struct {
	PaperID   int64   `json:"paper_id"`
	ConceptID int64   `json:"concept_id"`
	Relevance float64 `json:"relevance_score"`
	Context   string  `json:"context,omitempty"`
}

// ConceptWithRelevance is a concept as linked from one paper.
type ConceptWithRelevance struct {
	Concept
	Relevance float64 `json:"relevance_score"`
	Context   string  `json:"context,omitempty"`
}

// Relationship represents a row in the paper_relationships table.
type Relationship struct {
	ID               int64   `json:"id"`
	SourcePaperID    int64   `json:"source_paper_id"`
	TargetPaperID    int64   `json:"target_paper_id"`
	RelationshipType string  `json:"relationship_type"`
	Explanation      string  `json:"explanation"`
	Confidence       float64 `json:"confidence"`
	PriorConfidence  float64 `json:"prior_confidence"`
	Validated        bool    `json:"validated"`
	ExtractedAt      string  `json:"extracted_at,omitempty"`
}

// ExtractionLog represents a row in the extraction_logs table.
type ExtractionLog struct {
	PaperID         int64   `json:"paper_id,omitempty"`
	Stage           string  `json:"stage"`
	Status          string  `json:"status"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	DurationSeconds float64 `json:"processing_time_seconds"`
}

// SharedConcept is a concept linked to both papers of a pair.
type SharedConcept struct {
	ConceptID  int64   `json:"concept_id"`
	Name       string  `json:"name"`
	RelevanceA float64 `json:"relevance_a"`
	RelevanceB float64 `json:"relevance_b"`
}

// CandidatePair is an unordered paper pair that shares concepts.
type CandidatePair struct {
	PaperA      int64 `json:"paper_a"`
	PaperB      int64 `json:"paper_b"`
	SharedCount int   `json:"shared_count"`
}

// CandidateQuery filters CandidatePairs.
type CandidateQuery struct {
	MinRelevance float64
	MinShared    int
	Limit        int
	// SkipExisting drops pairs that already have a relationship row in
	// either direction.
	SkipExisting bool
}

// SearchResult is a paper with its search or similarity score.
type SearchResult struct {
	Paper Paper   `json:"paper"`
	Score float64 `json:"score"`
}

// TypeCount is the per-kind breakdown in Statistics.
type TypeCount struct {
	Type          string  `json:"relationship_type"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Statistics summarises the store contents.
type Statistics struct {
	TotalPapers              int         `json:"total_papers"`
	PapersWithText           int         `json:"papers_with_text"`
	PapersWithConcepts       int         `json:"papers_with_concepts"`
	TotalConcepts            int         `json:"total_concepts"`
	TotalRelationships       int         `json:"total_relationships"`
	ValidatedRelationships   int         `json:"validated_relationships"`
	AvgRelationshipsPerPaper float64     `json:"avg_relationships_per_paper"`
	FailedExtractions        int         `json:"failed_extractions"`
	ByType                   []TypeCount `json:"relationships_by_type"`
	TopConcepts              []Concept   `json:"top_concepts"`
}

// Snapshot is a consistent read of everything the validator needs.
type Snapshot struct {
	Concepts      []Concept
	Links         map[int64][]PaperConcept // keyed by concept ID
	Relationships []Relationship
}
