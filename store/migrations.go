package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// migrations is the ordered list of schema migrations. Append only.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema (applied via schemaSQL)",
		apply:       func(tx *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "summary views over concepts and relationships",
		apply: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				`CREATE VIEW IF NOT EXISTS paper_concept_summary AS
					SELECT p.id AS paper_id, p.arxiv_id, p.title,
						COUNT(pc.concept_id) AS concept_count,
						COALESCE(AVG(pc.relevance_score), 0) AS avg_relevance
					FROM papers p
					LEFT JOIN paper_concepts pc ON pc.paper_id = p.id
					GROUP BY p.id`,
				`CREATE VIEW IF NOT EXISTS top_concepts AS
					SELECT c.id, c.name, c.concept_type, c.mention_count,
						COUNT(DISTINCT pc.paper_id) AS paper_count
					FROM concepts c
					LEFT JOIN paper_concepts pc ON pc.concept_id = c.id
					GROUP BY c.id
					ORDER BY c.mention_count DESC`,
				`CREATE VIEW IF NOT EXISTS relationship_summary AS
					SELECT relationship_type, COUNT(*) AS total,
						AVG(confidence) AS avg_confidence,
						SUM(validated) AS validated
					FROM paper_relationships
					GROUP BY relationship_type`,
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Info("store: applying migration", "version", m.version, "description", m.description)

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)",
				m.version, m.description); err != nil {
				return fmt.Errorf("recording migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, err
}
