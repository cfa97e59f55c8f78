package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS papers (
    id BIGSERIAL PRIMARY KEY,
    arxiv_id VARCHAR(50) UNIQUE NOT NULL,
    title TEXT NOT NULL,
    abstract TEXT,
    authors TEXT[],
    published_date DATE,
    pdf_path TEXT,
    full_text TEXT,
    is_seminal BOOLEAN NOT NULL DEFAULT FALSE,
    cites_seminal BOOLEAN NOT NULL DEFAULT FALSE,
    semantic_scholar_id TEXT,
    citation_count INTEGER NOT NULL DEFAULT 0,
    processed_at TIMESTAMP,
    tsv_title tsvector GENERATED ALWAYS AS (to_tsvector('english', title)) STORED,
    tsv_abstract tsvector GENERATED ALWAYS AS (to_tsvector('english', COALESCE(abstract, ''))) STORED
);
CREATE INDEX IF NOT EXISTS idx_papers_title_search ON papers USING GIN(tsv_title);
CREATE INDEX IF NOT EXISTS idx_papers_abstract_search ON papers USING GIN(tsv_abstract);
CREATE INDEX IF NOT EXISTS idx_papers_published ON papers(published_date);

CREATE TABLE IF NOT EXISTS concepts (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    concept_type VARCHAR(50) NOT NULL DEFAULT 'concept',
    mention_count INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_concepts_name_lower ON concepts (lower(name));
CREATE INDEX IF NOT EXISTS idx_concepts_type ON concepts(concept_type);
CREATE INDEX IF NOT EXISTS idx_concepts_mention_count ON concepts(mention_count DESC);

CREATE TABLE IF NOT EXISTS paper_concepts (
    id BIGSERIAL PRIMARY KEY,
    paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    concept_id BIGINT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
    relevance_score DOUBLE PRECISION NOT NULL,
    context TEXT,
    UNIQUE(paper_id, concept_id)
);
CREATE INDEX IF NOT EXISTS idx_paper_concepts_concept ON paper_concepts(concept_id);
CREATE INDEX IF NOT EXISTS idx_paper_concepts_relevance ON paper_concepts(relevance_score DESC);

CREATE TABLE IF NOT EXISTS paper_relationships (
    id BIGSERIAL PRIMARY KEY,
    source_paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    target_paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    relationship_type VARCHAR(50) NOT NULL DEFAULT '',
    explanation TEXT,
    confidence DOUBLE PRECISION NOT NULL,
    prior_confidence DOUBLE PRECISION,
    extracted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    validated BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE(source_paper_id, target_paper_id, relationship_type),
    CHECK (source_paper_id != target_paper_id)
);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON paper_relationships(source_paper_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON paper_relationships(target_paper_id);
CREATE INDEX IF NOT EXISTS idx_relationships_confidence ON paper_relationships(confidence DESC);
CREATE INDEX IF NOT EXISTS idx_relationships_validated ON paper_relationships(validated);

CREATE TABLE IF NOT EXISTS extraction_logs (
    id BIGSERIAL PRIMARY KEY,
    paper_id BIGINT REFERENCES papers(id) ON DELETE CASCADE,
    stage VARCHAR(50) NOT NULL,
    status VARCHAR(20) NOT NULL,
    error_message TEXT,
    processing_time_seconds DOUBLE PRECISION,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_logs_paper ON extraction_logs(paper_id);
CREATE INDEX IF NOT EXISTS idx_logs_status ON extraction_logs(status);
`

const viewsSchema = `
CREATE OR REPLACE VIEW paper_concept_summary AS
SELECT p.id AS paper_id, p.arxiv_id, p.title,
    COUNT(pc.concept_id) AS concept_count,
    COALESCE(AVG(pc.relevance_score), 0) AS avg_relevance
FROM papers p
LEFT JOIN paper_concepts pc ON pc.paper_id = p.id
GROUP BY p.id, p.arxiv_id, p.title;

CREATE OR REPLACE VIEW top_concepts AS
SELECT c.id, c.name, c.concept_type, c.mention_count,
    COUNT(DISTINCT pc.paper_id) AS paper_count
FROM concepts c
LEFT JOIN paper_concepts pc ON pc.concept_id = c.id
GROUP BY c.id, c.name, c.concept_type, c.mention_count
ORDER BY c.mention_count DESC;

CREATE OR REPLACE VIEW relationship_summary AS
SELECT relationship_type, COUNT(*) AS total,
    AVG(confidence) AS avg_confidence,
    SUM(CASE WHEN validated THEN 1 ELSE 0 END) AS validated
FROM paper_relationships
GROUP BY relationship_type;
`

type migration struct {
	version     int
	description string
	sql         string
}

// migrations is the ordered list of schema migrations. Append only.
var migrations = []migration{
	{1, "base tables", baseSchema},
	{2, "summary views", viewsSchema},
}

// Migrate applies pending migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Info("pgstore: applying migration", "version", m.version, "description", m.description)
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_version (version, description) VALUES ($1, $2)",
				m.version, m.description)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
