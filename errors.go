package papergraph

import "errors"

var (
	// ErrPaperNotFound is returned when a paper ID or arXiv ID does not exist.
	ErrPaperNotFound = errors.New("papergraph: paper not found")

	// ErrMissingArxivID is returned when ingesting metadata without an
	// arXiv ID.
	ErrMissingArxivID = errors.New("papergraph: paper has no arXiv ID")

	// ErrNoText is returned when a paper has neither full text nor an
	// abstract to extract concepts from.
	ErrNoText = errors.New("papergraph: paper has no text")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("papergraph: unsupported document format")

	// ErrParsingFailed is returned when text extraction fails.
	ErrParsingFailed = errors.New("papergraph: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("papergraph: embedding generation failed")

	// ErrLLMRequestFailed is returned when a model request fails.
	ErrLLMRequestFailed = errors.New("papergraph: LLM request failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("papergraph: invalid configuration")

	// ErrUnsupportedBackend is returned when the configured backend lacks an
	// operation, such as similarity search on PostgreSQL without Qdrant.
	ErrUnsupportedBackend = errors.New("papergraph: operation not supported by storage backend")

	// ErrNoResults is returned when a search yields nothing.
	ErrNoResults = errors.New("papergraph: no results found")
)
