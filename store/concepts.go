package store

import (
	"context"
	"database/sql"
)

// --- Concept operations ---

// UpsertConcept inserts a concept or, when the name already exists
// (case-insensitively), increments its mention count. Returns the ID.
func (s *Store) UpsertConcept(ctx context.Context, c Concept) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = upsertConceptTx(ctx, tx, c, true)
		return err
	})
	return id, err
}

func upsertConceptTx(ctx context.Context, tx *sql.Tx, c Concept, increment bool) (int64, error) {
	if c.ConceptType == "" {
		c.ConceptType = "concept"
	}
	bump := 0
	if increment {
		bump = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO concepts (name, description, concept_type, mention_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			mention_count = concepts.mention_count + ?,
			description = COALESCE(NULLIF(concepts.description, ''), excluded.description)
	`, c.Name, c.Description, c.ConceptType, bump); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM concepts WHERE name = ?", c.Name).Scan(&id)
	return id, err
}

// LinkPaperConcept records (or updates) a paper's relevance for a concept.
func (s *Store) LinkPaperConcept(ctx context.Context, pc PaperConcept) error {
	_, err := s.db.ExecContext(ctx, linkSQL, pc.PaperID, pc.ConceptID, pc.Relevance, pc.Context)
	return err
}

const linkSQL = `
	INSERT INTO paper_concepts (paper_id, concept_id, relevance_score, context)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(paper_id, concept_id) DO UPDATE SET
		relevance_score = excluded.relevance_score,
		context = excluded.context`

// ReplacePaperConcepts swaps a paper's concept links for the given set in
// one transaction. Mention counts are incremented only for concepts the
// paper was not already linked to, so re-extraction does not inflate them.
func (s *Store) ReplacePaperConcepts(ctx context.Context, paperID int64, concepts []ConceptWithRelevance) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		previous := make(map[string]bool)
		rows, err := tx.QueryContext(ctx, `
			SELECT lower(c.name) FROM paper_concepts pc
			JOIN concepts c ON c.id = pc.concept_id
			WHERE pc.paper_id = ?`, paperID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			previous[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM paper_concepts WHERE paper_id = ?", paperID); err != nil {
			return err
		}

		for _, c := range concepts {
			id, err := upsertConceptTx(ctx, tx, c.Concept, !previous[lower(c.Name)])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, linkSQL, paperID, id, c.Relevance, c.Context); err != nil {
				return err
			}
		}
		return nil
	})
}

// PaperConcepts returns a paper's concepts ordered by relevance.
func (s *Store) PaperConcepts(ctx context.Context, paperID int64) ([]ConceptWithRelevance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.concept_type, c.mention_count,
			pc.relevance_score, pc.context
		FROM paper_concepts pc
		JOIN concepts c ON c.id = pc.concept_id
		WHERE pc.paper_id = ?
		ORDER BY pc.relevance_score DESC, c.name
	`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConceptWithRelevance
	for rows.Next() {
		var c ConceptWithRelevance
		var desc, ctxText sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &desc, &c.ConceptType, &c.MentionCount,
			&c.Relevance, &ctxText); err != nil {
			return nil, err
		}
		c.Description = desc.String
		c.Context = ctxText.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListConcepts returns all concepts, most mentioned first.
func (s *Store) ListConcepts(ctx context.Context) ([]Concept, error) {
	return listConcepts(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listConcepts(ctx context.Context, q querier) ([]Concept, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, description, concept_type, mention_count
		FROM concepts ORDER BY mention_count DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		var c Concept
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &desc, &c.ConceptType, &c.MentionCount); err != nil {
			return nil, err
		}
		c.Description = desc.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// SharedConcepts returns concepts linked to both papers with relevance of
// at least minRelevance on each side.
func (s *Store) SharedConcepts(ctx context.Context, paperA, paperB int64, minRelevance float64) ([]SharedConcept, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, pa.relevance_score, pb.relevance_score
		FROM paper_concepts pa
		JOIN paper_concepts pb ON pb.concept_id = pa.concept_id
		JOIN concepts c ON c.id = pa.concept_id
		WHERE pa.paper_id = ? AND pb.paper_id = ?
			AND pa.relevance_score >= ? AND pb.relevance_score >= ?
		ORDER BY c.id
	`, paperA, paperB, minRelevance, minRelevance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SharedConcept
	for rows.Next() {
		var sc SharedConcept
		if err := rows.Scan(&sc.ConceptID, &sc.Name, &sc.RelevanceA, &sc.RelevanceB); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CandidatePairs lists unordered paper pairs sharing at least q.MinShared
// concepts above q.MinRelevance, most overlap first.
func (s *Store) CandidatePairs(ctx context.Context, q CandidateQuery) ([]CandidatePair, error) {
	if q.MinShared < 1 {
		q.MinShared = 1
	}
	if q.Limit <= 0 {
		q.Limit = -1
	}
	skip := 0
	if q.SkipExisting {
		skip = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.paper_id, b.paper_id, COUNT(*) AS shared
		FROM paper_concepts a
		JOIN paper_concepts b ON b.concept_id = a.concept_id AND a.paper_id < b.paper_id
		WHERE a.relevance_score >= ? AND b.relevance_score >= ?
			AND (? = 0 OR NOT EXISTS (
				SELECT 1 FROM paper_relationships r
				WHERE (r.source_paper_id = a.paper_id AND r.target_paper_id = b.paper_id)
				   OR (r.source_paper_id = b.paper_id AND r.target_paper_id = a.paper_id)))
		GROUP BY a.paper_id, b.paper_id
		HAVING COUNT(*) >= ?
		ORDER BY shared DESC, a.paper_id, b.paper_id
		LIMIT ?
	`, q.MinRelevance, q.MinRelevance, skip, q.MinShared, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidatePair
	for rows.Next() {
		var cp CandidatePair
		if err := rows.Scan(&cp.PaperA, &cp.PaperB, &cp.SharedCount); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// lower folds ASCII letters only, matching SQLite's lower() and NOCASE.
func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
