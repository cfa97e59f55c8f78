package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
//
// Score columns carry no range CHECK. Out-of-range values are stored as
// extracted and reported by the validator.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Paper registry keyed by arXiv identifier
CREATE TABLE IF NOT EXISTS papers (
    id INTEGER PRIMARY KEY,
    arxiv_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    abstract TEXT,
    authors JSON,
    published_date TEXT,
    pdf_path TEXT,
    full_text TEXT,
    is_seminal INTEGER NOT NULL DEFAULT 0,
    cites_seminal INTEGER NOT NULL DEFAULT 0,
    semantic_scholar_id TEXT,
    citation_count INTEGER NOT NULL DEFAULT 0,
    processed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Abstract embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_papers USING vec0(
    paper_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search over title and abstract via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS papers_fts USING fts5(
    title,
    abstract,
    content='papers',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS papers_ai AFTER INSERT ON papers BEGIN
    INSERT INTO papers_fts(rowid, title, abstract) VALUES (new.id, new.title, new.abstract);
END;
CREATE TRIGGER IF NOT EXISTS papers_ad AFTER DELETE ON papers BEGIN
    INSERT INTO papers_fts(papers_fts, rowid, title, abstract) VALUES ('delete', old.id, old.title, old.abstract);
END;
CREATE TRIGGER IF NOT EXISTS papers_au AFTER UPDATE OF title, abstract ON papers BEGIN
    INSERT INTO papers_fts(papers_fts, rowid, title, abstract) VALUES ('delete', old.id, old.title, old.abstract);
    INSERT INTO papers_fts(rowid, title, abstract) VALUES (new.id, new.title, new.abstract);
END;

-- Extracted concepts, deduplicated by normalised name
CREATE TABLE IF NOT EXISTS concepts (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE COLLATE NOCASE,
    description TEXT,
    concept_type TEXT NOT NULL DEFAULT 'concept',
    mention_count INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Paper-to-concept links with relevance
CREATE TABLE IF NOT EXISTS paper_concepts (
    id INTEGER PRIMARY KEY,
    paper_id INTEGER NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    concept_id INTEGER NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
    relevance_score REAL NOT NULL,
    context TEXT,
    UNIQUE(paper_id, concept_id)
);

-- Directed relationships between papers. An empty type means the model
-- found no relationship for the pair.
CREATE TABLE IF NOT EXISTS paper_relationships (
    id INTEGER PRIMARY KEY,
    source_paper_id INTEGER NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    target_paper_id INTEGER NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
    relationship_type TEXT NOT NULL DEFAULT '',
    explanation TEXT,
    confidence REAL NOT NULL,
    prior_confidence REAL,
    validated INTEGER NOT NULL DEFAULT 0,
    extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(source_paper_id, target_paper_id, relationship_type),
    CHECK (source_paper_id != target_paper_id)
);

-- Pipeline audit log
CREATE TABLE IF NOT EXISTS extraction_logs (
    id INTEGER PRIMARY KEY,
    paper_id INTEGER REFERENCES papers(id) ON DELETE CASCADE,
    stage TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    processing_time_seconds REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_papers_published ON papers(published_date);
CREATE INDEX IF NOT EXISTS idx_concepts_type ON concepts(concept_type);
CREATE INDEX IF NOT EXISTS idx_paper_concepts_paper ON paper_concepts(paper_id);
CREATE INDEX IF NOT EXISTS idx_paper_concepts_concept ON paper_concepts(concept_id);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON paper_relationships(source_paper_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON paper_relationships(target_paper_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON paper_relationships(relationship_type);
CREATE INDEX IF NOT EXISTS idx_extraction_logs_paper ON extraction_logs(paper_id);
`, embeddingDim)
}
