package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/brunobiangulo/papergraph/store"
)

const upsertConceptSQL = `
	INSERT INTO concepts (name, description, concept_type, mention_count)
	VALUES ($1, NULLIF($2, ''), $3, 1)
	ON CONFLICT ((lower(name))) DO UPDATE SET
		mention_count = concepts.mention_count + $4,
		description = COALESCE(concepts.description, EXCLUDED.description)
	RETURNING id`

const linkSQL = `
	INSERT INTO paper_concepts (paper_id, concept_id, relevance_score, context)
	VALUES ($1, $2, $3, NULLIF($4, ''))
	ON CONFLICT (paper_id, concept_id) DO UPDATE SET
		relevance_score = EXCLUDED.relevance_score,
		context = EXCLUDED.context`

func conceptType(t string) string {
	if t == "" {
		return "concept"
	}
	return t
}

// UpsertConcept inserts a concept or bumps the mention count of the
// existing case-insensitive match.
func (s *Store) UpsertConcept(ctx context.Context, c store.Concept) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, upsertConceptSQL,
		c.Name, c.Description, conceptType(c.ConceptType), 1).Scan(&id)
	return id, err
}

// LinkPaperConcept records a paper's relevance for a concept.
func (s *Store) LinkPaperConcept(ctx context.Context, pc store.PaperConcept) error {
	_, err := s.pool.Exec(ctx, linkSQL, pc.PaperID, pc.ConceptID, pc.Relevance, pc.Context)
	return err
}

// ReplacePaperConcepts swaps a paper's concept links in one transaction
// without re-counting concepts the paper was already linked to.
func (s *Store) ReplacePaperConcepts(ctx context.Context, paperID int64, concepts []store.ConceptWithRelevance) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT lower(c.name) FROM paper_concepts pc
			JOIN concepts c ON c.id = pc.concept_id
			WHERE pc.paper_id = $1`, paperID)
		if err != nil {
			return err
		}
		previous, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(previous))
		for _, n := range previous {
			seen[n] = true
		}

		if _, err := tx.Exec(ctx, "DELETE FROM paper_concepts WHERE paper_id = $1", paperID); err != nil {
			return err
		}

		for _, c := range concepts {
			bump := 1
			if seen[strings.ToLower(c.Name)] {
				bump = 0
			}
			var id int64
			if err := tx.QueryRow(ctx, upsertConceptSQL,
				c.Name, c.Description, conceptType(c.ConceptType), bump).Scan(&id); err != nil {
				return fmt.Errorf("upserting concept %q: %w", c.Name, err)
			}
			if _, err := tx.Exec(ctx, linkSQL, paperID, id, c.Relevance, c.Context); err != nil {
				return err
			}
		}
		return nil
	})
}

// PaperConcepts returns a paper's concepts ordered by relevance.
func (s *Store) PaperConcepts(ctx context.Context, paperID int64) ([]store.ConceptWithRelevance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, COALESCE(c.description, ''), c.concept_type, c.mention_count,
			pc.relevance_score, COALESCE(pc.context, '')
		FROM paper_concepts pc
		JOIN concepts c ON c.id = pc.concept_id
		WHERE pc.paper_id = $1
		ORDER BY pc.relevance_score DESC, c.name
	`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConceptWithRelevance
	for rows.Next() {
		var c store.ConceptWithRelevance
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ConceptType, &c.MentionCount,
			&c.Relevance, &c.Context); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ListConcepts returns all concepts, most mentioned first.
func (s *Store) ListConcepts(ctx context.Context) ([]store.Concept, error) {
	return listConcepts(ctx, s.pool)
}

func listConcepts(ctx context.Context, q queryer) ([]store.Concept, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), concept_type, mention_count
		FROM concepts ORDER BY mention_count DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Concept
	for rows.Next() {
		var c store.Concept
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ConceptType, &c.MentionCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SharedConcepts returns concepts linked to both papers above minRelevance.
func (s *Store) SharedConcepts(ctx context.Context, paperA, paperB int64, minRelevance float64) ([]store.SharedConcept, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, pa.relevance_score, pb.relevance_score
		FROM paper_concepts pa
		JOIN paper_concepts pb ON pb.concept_id = pa.concept_id
		JOIN concepts c ON c.id = pa.concept_id
		WHERE pa.paper_id = $1 AND pb.paper_id = $2
			AND pa.relevance_score >= $3 AND pb.relevance_score >= $3
		ORDER BY c.id
	`, paperA, paperB, minRelevance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SharedConcept
	for rows.Next() {
		var sc store.SharedConcept
		if err := rows.Scan(&sc.ConceptID, &sc.Name, &sc.RelevanceA, &sc.RelevanceB); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CandidatePairs lists unordered paper pairs sharing concepts.
func (s *Store) CandidatePairs(ctx context.Context, q store.CandidateQuery) ([]store.CandidatePair, error) {
	if q.MinShared < 1 {
		q.MinShared = 1
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT a.paper_id, b.paper_id, COUNT(*) AS shared
		FROM paper_concepts a
		JOIN paper_concepts b ON b.concept_id = a.concept_id AND a.paper_id < b.paper_id
		WHERE a.relevance_score >= $1 AND b.relevance_score >= $1
			AND (NOT $2::boolean OR NOT EXISTS (
				SELECT 1 FROM paper_relationships r
				WHERE (r.source_paper_id = a.paper_id AND r.target_paper_id = b.paper_id)
				   OR (r.source_paper_id = b.paper_id AND r.target_paper_id = a.paper_id)))
		GROUP BY a.paper_id, b.paper_id
		HAVING COUNT(*) >= $3
		ORDER BY shared DESC, a.paper_id, b.paper_id
		LIMIT $4
	`, q.MinRelevance, q.SkipExisting, q.MinShared, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CandidatePair
	for rows.Next() {
		var cp store.CandidatePair
		if err := rows.Scan(&cp.PaperA, &cp.PaperB, &cp.SharedCount); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// UpsertRelationship stores a relationship keyed by (source, target, type)
// and clears the validated flag on rediscovery.
func (s *Store) UpsertRelationship(ctx context.Context, r store.Relationship) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO paper_relationships (source_paper_id, target_paper_id, relationship_type,
			explanation, confidence, prior_confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_paper_id, target_paper_id, relationship_type) DO UPDATE SET
			explanation = EXCLUDED.explanation,
			confidence = EXCLUDED.confidence,
			prior_confidence = EXCLUDED.prior_confidence,
			validated = FALSE,
			extracted_at = CURRENT_TIMESTAMP
		RETURNING id
	`, r.SourcePaperID, r.TargetPaperID, r.RelationshipType, r.Explanation,
		r.Confidence, r.PriorConfidence).Scan(&id)
	return id, err
}

const relationshipColumns = `id, source_paper_id, target_paper_id, relationship_type,
	COALESCE(explanation, ''), confidence, COALESCE(prior_confidence, 0), validated,
	COALESCE(to_char(extracted_at, 'YYYY-MM-DD HH24:MI:SS'), '')`

func scanRelationships(rows pgx.Rows) ([]store.Relationship, error) {
	defer rows.Close()
	var out []store.Relationship
	for rows.Next() {
		var r store.Relationship
		if err := rows.Scan(&r.ID, &r.SourcePaperID, &r.TargetPaperID, &r.RelationshipType,
			&r.Explanation, &r.Confidence, &r.PriorConfidence, &r.Validated, &r.ExtractedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRelationships returns relationships at or above minConfidence.
func (s *Store) ListRelationships(ctx context.Context, minConfidence float64) ([]store.Relationship, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+relationshipColumns+
		" FROM paper_relationships WHERE confidence >= $1 ORDER BY confidence DESC, id", minConfidence)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

// PaperRelationships returns relationships touching paperID.
func (s *Store) PaperRelationships(ctx context.Context, paperID int64, minConfidence float64) ([]store.Relationship, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+relationshipColumns+` FROM paper_relationships
		WHERE (source_paper_id = $1 OR target_paper_id = $1) AND confidence >= $2
		ORDER BY confidence DESC, id`, paperID, minConfidence)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

// SetRelationshipValidated sets the validated flag on one relationship.
func (s *Store) SetRelationshipValidated(ctx context.Context, id int64, validated bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE paper_relationships SET validated = $1 WHERE id = $2", validated, id)
	if err != nil {
		return err
	}
	return requireRow(tag.RowsAffected())
}

// LogExtraction appends a row to extraction_logs.
func (s *Store) LogExtraction(ctx context.Context, l store.ExtractionLog) error {
	var paperID *int64
	if l.PaperID != 0 {
		paperID = &l.PaperID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO extraction_logs (paper_id, stage, status, error_message, processing_time_seconds)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, paperID, l.Stage, l.Status, l.ErrorMessage, l.DurationSeconds)
	return err
}

// Statistics mirrors the SQLite store's aggregate view.
func (s *Store) Statistics(ctx context.Context) (*store.Statistics, error) {
	st := &store.Statistics{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM papers),
			(SELECT COUNT(*) FROM papers WHERE COALESCE(length(full_text), 0) > 0),
			(SELECT COUNT(DISTINCT paper_id) FROM paper_concepts),
			(SELECT COUNT(*) FROM concepts),
			(SELECT COUNT(*) FROM paper_relationships),
			(SELECT COUNT(*) FROM paper_relationships WHERE validated),
			(SELECT COUNT(*) FROM extraction_logs WHERE status = 'failed')
	`).Scan(&st.TotalPapers, &st.PapersWithText, &st.PapersWithConcepts, &st.TotalConcepts,
		&st.TotalRelationships, &st.ValidatedRelationships, &st.FailedExtractions)
	if err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}
	if st.TotalPapers > 0 {
		st.AvgRelationshipsPerPaper = float64(st.TotalRelationships) / float64(st.TotalPapers)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT relationship_type, total, avg_confidence FROM relationship_summary
		ORDER BY total DESC, relationship_type`)
	if err != nil {
		return nil, fmt.Errorf("relationship breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc store.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count, &tc.AvgConfidence); err != nil {
			return nil, err
		}
		st.ByType = append(st.ByType, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	concepts, err := s.ListConcepts(ctx)
	if err != nil {
		return nil, fmt.Errorf("top concepts: %w", err)
	}
	if len(concepts) > 5 {
		concepts = concepts[:5]
	}
	st.TopConcepts = concepts
	return st, nil
}

// Snapshot reads concepts, links and relationships in one repeatable-read
// transaction.
func (s *Store) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	snap := &store.Snapshot{Links: make(map[int64][]store.PaperConcept)}
	if snap.Concepts, err = listConcepts(ctx, tx); err != nil {
		return nil, fmt.Errorf("snapshot concepts: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT paper_id, concept_id, relevance_score, COALESCE(context, '')
		FROM paper_concepts ORDER BY concept_id, paper_id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot links: %w", err)
	}
	for rows.Next() {
		var pc store.PaperConcept
		if err := rows.Scan(&pc.PaperID, &pc.ConceptID, &pc.Relevance, &pc.Context); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Links[pc.ConceptID] = append(snap.Links[pc.ConceptID], pc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rels, err := tx.Query(ctx, "SELECT "+relationshipColumns+" FROM paper_relationships ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("snapshot relationships: %w", err)
	}
	if snap.Relationships, err = scanRelationships(rels); err != nil {
		return nil, err
	}
	return snap, tx.Commit(ctx)
}
