package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps the SQLite database for all papergraph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Paper operations ---

// paperColumns lists the columns scanPaper expects, qualified by alias
// when one is given.
func paperColumns(alias string) string {
	a := ""
	if alias != "" {
		a = alias + "."
	}
	return fmt.Sprintf(`%[1]sid, %[1]sarxiv_id, %[1]stitle, %[1]sabstract, %[1]sauthors,
		%[1]spublished_date, %[1]spdf_path, %[1]sis_seminal, %[1]scites_seminal,
		%[1]ssemantic_scholar_id, %[1]scitation_count, %[1]sprocessed_at,
		COALESCE(length(%[1]sfull_text), 0) > 0`, a)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner, extra ...any) (*Paper, error) {
	var (
		p                                     Paper
		abstract, authors, published, pdfPath sql.NullString
		ssID, processed                       sql.NullString
	)
	dest := []any{&p.ID, &p.ArxivID, &p.Title, &abstract, &authors, &published, &pdfPath,
		&p.IsSeminal, &p.CitesSeminal, &ssID, &p.CitationCount, &processed, &p.HasText}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Abstract = abstract.String
	p.PublishedDate = published.String
	p.PDFPath = pdfPath.String
	p.SemanticScholarID = ssID.String
	p.ProcessedAt = processed.String
	if authors.String != "" {
		if err := json.Unmarshal([]byte(authors.String), &p.Authors); err != nil {
			return nil, fmt.Errorf("decoding authors for %s: %w", p.ArxivID, err)
		}
	}
	return &p, nil
}

// UpsertPaper inserts or updates a paper keyed by arXiv ID and returns its
// row ID. Seminal flags and citation counts never decrease, and empty
// optional fields do not overwrite stored values. Full text is managed by
// UpdatePaperText.
func (s *Store) UpsertPaper(ctx context.Context, p Paper) (int64, error) {
	if p.ArxivID == "" {
		return 0, errors.New("store: paper without arxiv_id")
	}
	authors, err := json.Marshal(p.Authors)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO papers (arxiv_id, title, abstract, authors, published_date, pdf_path,
			is_seminal, cites_seminal, semantic_scholar_id, citation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(arxiv_id) DO UPDATE SET
			title = excluded.title,
			abstract = COALESCE(NULLIF(excluded.abstract, ''), papers.abstract),
			authors = excluded.authors,
			published_date = COALESCE(NULLIF(excluded.published_date, ''), papers.published_date),
			pdf_path = COALESCE(NULLIF(excluded.pdf_path, ''), papers.pdf_path),
			is_seminal = MAX(papers.is_seminal, excluded.is_seminal),
			cites_seminal = MAX(papers.cites_seminal, excluded.cites_seminal),
			semantic_scholar_id = COALESCE(NULLIF(excluded.semantic_scholar_id, ''), papers.semantic_scholar_id),
			citation_count = MAX(papers.citation_count, excluded.citation_count),
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, p.ArxivID, p.Title, p.Abstract, string(authors), p.PublishedDate, p.PDFPath,
		p.IsSeminal, p.CitesSeminal, p.SemanticScholarID, p.CitationCount).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetPaper retrieves a paper by ID, including its full text.
func (s *Store) GetPaper(ctx context.Context, id int64) (*Paper, error) {
	var text sql.NullString
	p, err := scanPaper(s.db.QueryRowContext(ctx,
		"SELECT "+paperColumns("")+", full_text FROM papers WHERE id = ?", id), &text)
	if err != nil {
		return nil, notFound(err)
	}
	p.FullText = text.String
	return p, nil
}

// GetPaperByArxivID retrieves a paper by arXiv ID, including its full text.
func (s *Store) GetPaperByArxivID(ctx context.Context, arxivID string) (*Paper, error) {
	var text sql.NullString
	p, err := scanPaper(s.db.QueryRowContext(ctx,
		"SELECT "+paperColumns("")+", full_text FROM papers WHERE arxiv_id = ?", arxivID), &text)
	if err != nil {
		return nil, notFound(err)
	}
	p.FullText = text.String
	return p, nil
}

// ListPapers returns all papers ordered by publication date, without
// their full text.
func (s *Store) ListPapers(ctx context.Context) ([]Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+paperColumns("")+" FROM papers ORDER BY published_date, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []Paper
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE papers SET full_text = ?, processed_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, text, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeletePaper removes a paper, its embedding, and cascades to its
// concept links, relationships and logs.
func (s *Store) DeletePaper(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_papers WHERE paper_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM papers WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SearchPapers performs a full-text search over titles and abstracts
// using FTS5 BM25 ranking.
func (s *Store) SearchPapers(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paperColumns("p")+`, f.rank
		FROM papers_fts f
		JOIN papers p ON p.id = f.rowid
		WHERE papers_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var rank float64
		p, err := scanPaper(rows, &rank)
		if err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better)
		results = append(results, SearchResult{Paper: *p, Score: -rank})
	}
	return results, rows.Err()
}

// --- Embedding operations ---

// InsertPaperEmbedding stores a vector embedding for a paper abstract.
func (s *Store) InsertPaperEmbedding(ctx context.Context, paperID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("store: embedding has %d dimensions, want %d", len(embedding), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// vec0 does not support upsert.
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_papers WHERE paper_id = ?", paperID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO vec_papers (paper_id, embedding) VALUES (?, ?)",
			paperID, serializeFloat32(embedding))
		return err
	})
}

// SimilarToVector performs a KNN search returning the k nearest papers.
func (s *Store) SimilarToVector(ctx context.Context, embedding []float32, k int) ([]SearchResult, error) {
	return s.knn(ctx, serializeFloat32(embedding), k, 0)
}

// SimilarPapers returns the k papers nearest to paperID's stored embedding.
func (s *Store) SimilarPapers(ctx context.Context, paperID int64, k int) ([]SearchResult, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vec_papers WHERE paper_id = ?", paperID).Scan(&blob)
	if err != nil {
		return nil, notFound(err)
	}
	return s.knn(ctx, blob, k, paperID)
}

func (s *Store) knn(ctx context.Context, blob []byte, k int, exclude int64) ([]SearchResult, error) {
	fetch := k
	if exclude != 0 {
		fetch++
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paperColumns("p")+`, v.distance
		FROM vec_papers v
		JOIN papers p ON p.id = v.paper_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, blob, fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var distance float64
		p, err := scanPaper(rows, &distance)
		if err != nil {
			return nil, err
		}
		if p.ID == exclude || len(results) == k {
			continue
		}
		results = append(results, SearchResult{Paper: *p, Score: 1.0 - distance})
	}
	return results, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ftsQuery turns free text into an FTS5 expression matching any term.
func ftsQuery(q string) string {
	var terms []string
	for _, f := range strings.Fields(q) {
		f = strings.Trim(f, `"'*():^`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, "")+`"`)
	}
	return strings.Join(terms, " OR ")
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
