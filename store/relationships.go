package store

import (
	"context"
	"database/sql"
	"fmt"
)

// --- Relationship operations ---

// UpsertRelationship stores a relationship keyed by (source, target, type).
// A repeated discovery replaces the explanation and scores and clears the
// validated flag.
func (s *Store) UpsertRelationship(ctx context.Context, r Relationship) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO paper_relationships (source_paper_id, target_paper_id, relationship_type,
			explanation, confidence, prior_confidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_paper_id, target_paper_id, relationship_type) DO UPDATE SET
			explanation = excluded.explanation,
			confidence = excluded.confidence,
			prior_confidence = excluded.prior_confidence,
			validated = 0,
			extracted_at = CURRENT_TIMESTAMP
		RETURNING id
	`, r.SourcePaperID, r.TargetPaperID, r.RelationshipType, r.Explanation, r.Confidence, r.PriorConfidence).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const relationshipColumns = `id, source_paper_id, target_paper_id, relationship_type,
	explanation, confidence, prior_confidence, validated, extracted_at`

func scanRelationships(rows *sql.Rows) ([]Relationship, error) {
	defer rows.Close()
	var out []Relationship
	for rows.Next() {
		var r Relationship
		var explanation, extracted sql.NullString
		var prior sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.SourcePaperID, &r.TargetPaperID, &r.RelationshipType,
			&explanation, &r.Confidence, &prior, &r.Validated, &extracted); err != nil {
			return nil, err
		}
		r.Explanation = explanation.String
		r.PriorConfidence = prior.Float64
		r.ExtractedAt = extracted.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRelationships returns relationships with confidence of at least
// minConfidence, highest confidence first.
func (s *Store) ListRelationships(ctx context.Context, minConfidence float64) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM paper_relationships
		WHERE confidence >= ?
		ORDER BY confidence DESC, id
	`, minConfidence)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

// PaperRelationships returns relationships where paperID is source or target.
func (s *Store) PaperRelationships(ctx context.Context, paperID int64, minConfidence float64) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM paper_relationships
		WHERE (source_paper_id = ? OR target_paper_id = ?) AND confidence >= ?
		ORDER BY confidence DESC, id
	`, paperID, paperID, minConfidence)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

// SetRelationshipValidated sets the validated flag on one relationship.
func (s *Store) SetRelationshipValidated(ctx context.Context, id int64, validated bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE paper_relationships SET validated = ? WHERE id = ?", validated, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Extraction log ---

// LogExtraction appends a row to extraction_logs. A zero PaperID is
// stored as NULL.
func (s *Store) LogExtraction(ctx context.Context, l ExtractionLog) error {
	var paperID any
	if l.PaperID != 0 {
		paperID = l.PaperID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_logs (paper_id, stage, status, error_message, processing_time_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, paperID, l.Stage, l.Status, l.ErrorMessage, l.DurationSeconds)
	return err
}

// --- Aggregates ---

// Statistics returns totals, the per-type relationship breakdown and the
// five most mentioned concepts.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	st := &Statistics{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM papers", &st.TotalPapers},
		{"SELECT COUNT(*) FROM papers WHERE COALESCE(length(full_text), 0) > 0", &st.PapersWithText},
		{"SELECT COUNT(DISTINCT paper_id) FROM paper_concepts", &st.PapersWithConcepts},
		{"SELECT COUNT(*) FROM concepts", &st.TotalConcepts},
		{"SELECT COUNT(*) FROM paper_relationships", &st.TotalRelationships},
		{"SELECT COUNT(*) FROM paper_relationships WHERE validated = 1", &st.ValidatedRelationships},
		{"SELECT COUNT(*) FROM extraction_logs WHERE status = 'failed'", &st.FailedExtractions},
	}
	for _, q := range counts {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	if st.TotalPapers > 0 {
		st.AvgRelationshipsPerPaper = float64(st.TotalRelationships) / float64(st.TotalPapers)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT relationship_type, COUNT(*), AVG(confidence)
		FROM paper_relationships
		GROUP BY relationship_type
		ORDER BY COUNT(*) DESC, relationship_type
	`)
	if err != nil {
		return nil, fmt.Errorf("relationship breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TypeCount
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

// Snapshot reads concepts, their paper links and all relationships inside
// one read transaction so the validator sees a coherent view.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &Snapshot{Links: make(map[int64][]PaperConcept)}

	if snap.Concepts, err = listConcepts(ctx, tx); err != nil {
		return nil, fmt.Errorf("snapshot concepts: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT paper_id, concept_id, relevance_score, context
		FROM paper_concepts ORDER BY concept_id, paper_id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot links: %w", err)
	}
	for rows.Next() {
		var pc PaperConcept
		var c sql.NullString
		if err := rows.Scan(&pc.PaperID, &pc.ConceptID, &pc.Relevance, &c); err != nil {
			rows.Close()
			return nil, err
		}
		pc.Context = c.String
		snap.Links[pc.ConceptID] = append(snap.Links[pc.ConceptID], pc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rels, err := tx.QueryContext(ctx, "SELECT "+relationshipColumns+" FROM paper_relationships ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("snapshot relationships: %w", err)
	}
	if snap.Relationships, err = scanRelationships(rels); err != nil {
		return nil, err
	}

	return snap, nil
}
