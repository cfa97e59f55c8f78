package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brunobiangulo/papergraph/store"
)

// Store is a PostgreSQL-backed store.Backend. It has no vector index;
// callers needing similarity search use the SQLite store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Backend = (*Store)(nil)

// Connect opens a pool, verifies it with a ping and applies migrations.
func Connect(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("pgstore: connected", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return s, nil
}

// Pool exposes the underlying pool for metrics collection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const paperColumns = `id, arxiv_id, title, COALESCE(abstract, ''), COALESCE(authors, '{}'),
	COALESCE(published_date::text, ''), COALESCE(pdf_path, ''), is_seminal, cites_seminal,
	COALESCE(semantic_scholar_id, ''), citation_count,
	COALESCE(to_char(processed_at, 'YYYY-MM-DD HH24:MI:SS'), ''),
	COALESCE(length(full_text), 0) > 0`

func scanPaper(row pgx.Row, extra ...any) (*store.Paper, error) {
	var p store.Paper
	dest := []any{&p.ID, &p.ArxivID, &p.Title, &p.Abstract, &p.Authors, &p.PublishedDate,
		&p.PDFPath, &p.IsSeminal, &p.CitesSeminal, &p.SemanticScholarID, &p.CitationCount,
		&p.ProcessedAt, &p.HasText}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, notFound(err)
	}
	if len(p.Authors) == 0 {
		p.Authors = nil
	}
	return &p, nil
}

// UpsertPaper inserts or updates a paper keyed by arXiv ID. Merge rules
// match the SQLite store.
func (s *Store) UpsertPaper(ctx context.Context, p store.Paper) (int64, error) {
	if p.ArxivID == "" {
		return 0, errors.New("pgstore: paper without arxiv_id")
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO papers (arxiv_id, title, abstract, authors, published_date, pdf_path,
			is_seminal, cites_seminal, semantic_scholar_id, citation_count)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, '')::date, NULLIF($6, ''), $7, $8, NULLIF($9, ''), $10)
		ON CONFLICT (arxiv_id) DO UPDATE SET
			title = EXCLUDED.title,
			abstract = COALESCE(EXCLUDED.abstract, papers.abstract),
			authors = EXCLUDED.authors,
			published_date = COALESCE(EXCLUDED.published_date, papers.published_date),
			pdf_path = COALESCE(EXCLUDED.pdf_path, papers.pdf_path),
			is_seminal = papers.is_seminal OR EXCLUDED.is_seminal,
			cites_seminal = papers.cites_seminal OR EXCLUDED.cites_seminal,
			semantic_scholar_id = COALESCE(EXCLUDED.semantic_scholar_id, papers.semantic_scholar_id),
			citation_count = GREATEST(papers.citation_count, EXCLUDED.citation_count)
		RETURNING id
	`, p.ArxivID, p.Title, p.Abstract, p.Authors, p.PublishedDate, p.PDFPath,
		p.IsSeminal, p.CitesSeminal, p.SemanticScholarID, p.CitationCount).Scan(&id)
	return id, err
}

// GetPaper retrieves a paper by ID, including its full text.
func (s *Store) GetPaper(ctx context.Context, id int64) (*store.Paper, error) {
	var text string
	p, err := scanPaper(s.pool.QueryRow(ctx,
		"SELECT "+paperColumns+", COALESCE(full_text, '') FROM papers WHERE id = $1", id), &text)
	if err != nil {
		return nil, err
	}
	p.FullText = text
	return p, nil
}

// GetPaperByArxivID retrieves a paper by arXiv ID, including its full text.
func (s *Store) GetPaperByArxivID(ctx context.Context, arxivID string) (*store.Paper, error) {
	var text string
	p, err := scanPaper(s.pool.QueryRow(ctx,
		"SELECT "+paperColumns+", COALESCE(full_text, '') FROM papers WHERE arxiv_id = $1", arxivID), &text)
	if err != nil {
		return nil, err
	}
	p.FullText = text
	return p, nil
}

// ListPapers returns all papers ordered by publication date.
func (s *Store) ListPapers(ctx context.Context) ([]store.Paper, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+paperColumns+" FROM papers ORDER BY published_date NULLS FIRST, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []store.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// UpdatePaperText stores extracted full text and stamps processed_at.
func (s *Store) UpdatePaperText(ctx context.Context, id int64, text string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE papers SET full_text = $1, processed_at = CURRENT_TIMESTAMP WHERE id = $2", text, id)
	if err != nil {
		return err
	}
	return requireRow(tag.RowsAffected())
}

// DeletePaper removes a paper and cascades to its links, relationships
// and logs.
func (s *Store) DeletePaper(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM papers WHERE id = $1", id)
	if err != nil {
		return err
	}
	return requireRow(tag.RowsAffected())
}

// SearchPapers ranks papers against the generated title and abstract
// tsvectors. Title matches weigh more than abstract matches.
func (s *Store) SearchPapers(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+paperColumns+`,
			ts_rank(setweight(tsv_title, 'A') || setweight(tsv_abstract, 'B'), q) AS rank
		FROM papers, plainto_tsquery('english', $1) q
		WHERE (tsv_title || tsv_abstract) @@ q
		ORDER BY rank DESC, id
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	var out []store.SearchResult
	for rows.Next() {
		var score float32
		p, err := scanPaper(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, store.SearchResult{Paper: *p, Score: float64(score)})
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func requireRow(n int64) error {
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
