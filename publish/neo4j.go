// Package publish mirrors the knowledge graph into external systems: a
// Neo4j property graph, a Qdrant collection of abstract embeddings and a
// NATS subject for validation events.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

// Neo4jConfig configures the Neo4j sink.
type Neo4jConfig struct {
	URL      string `json:"url" yaml:"url" mapstructure:"url"`
	User     string `json:"user" yaml:"user" mapstructure:"user"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	Database string `json:"database" yaml:"database" mapstructure:"database"`
	// BatchSize bounds the rows sent in one UNWIND statement.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
}

// GraphSink writes papers, concepts and relationships to Neo4j.
type GraphSink struct {
	driver neo4j.DriverWithContext
	cfg    Neo4jConfig
}

// SyncStats counts what one sync wrote.
type SyncStats struct {
	Papers        int `json:"papers"`
	Concepts      int `json:"concepts"`
	Mentions      int `json:"mentions"`
	Relationships int `json:"relationships"`
	// Skipped counts relationships without a kind.
	Skipped int `json:"skipped"`
}

// NewGraphSink connects to Neo4j and verifies connectivity.
func NewGraphSink(ctx context.Context, cfg Neo4jConfig) (*GraphSink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", cfg.URL, err)
	}
	return &GraphSink{driver: driver, cfg: cfg}, nil
}

// Close closes the driver.
func (g *GraphSink) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

const (
	constraintPaper   = `CREATE CONSTRAINT paper_id IF NOT EXISTS FOR (p:Paper) REQUIRE p.id IS UNIQUE`
	constraintConcept = `CREATE CONSTRAINT concept_id IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`

	mergePapers = `UNWIND $rows AS row
MERGE (p:Paper {id: row.id})
SET p.arxiv_id = row.arxiv_id, p.title = row.title, p.published = row.published,
    p.authors = row.authors, p.is_seminal = row.is_seminal, p.citation_count = row.citation_count`

	mergeConcepts = `UNWIND $rows AS row
MERGE (c:Concept {id: row.id})
SET c.name = row.name, c.category = row.category, c.mention_count = row.mention_count`

	mergeMentions = `UNWIND $rows AS row
MATCH (p:Paper {id: row.paper_id})
MATCH (c:Concept {id: row.concept_id})
MERGE (p)-[m:MENTIONS]->(c)
SET m.relevance = row.relevance`

	// mergeRelationships takes the relationship type as a verb; Cypher
	// cannot parameterize it.
	mergeRelationships = `UNWIND $rows AS row
MATCH (a:Paper {id: row.source})
MATCH (b:Paper {id: row.target})
MERGE (a)-[r:%s]->(b)
SET r.id = row.id, r.confidence = row.confidence, r.prior = row.prior,
    r.explanation = row.explanation, r.validated = row.validated`
)

// RelTypeLabel maps a relationship kind to its Neo4j relationship type.
// The none kind and unknown kinds have no label.
func RelTypeLabel(k validation.RelationKind) (string, bool) {
	if !k.Known() {
		return "", false
	}
	return strings.ToUpper(string(k)), true
}

// Sync upserts everything into Neo4j. Papers must cover every paper the
// snapshot references.
func (g *GraphSink) Sync(ctx context.Context, papers []store.Paper, snap *store.Snapshot) (SyncStats, error) {
	var stats SyncStats
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	for _, q := range []string{constraintPaper, constraintConcept} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return stats, fmt.Errorf("creating constraint: %w", err)
		}
	}

	if err := g.writeBatches(ctx, session, mergePapers, paperRows(papers)); err != nil {
		return stats, fmt.Errorf("writing papers: %w", err)
	}
	stats.Papers = len(papers)

	if err := g.writeBatches(ctx, session, mergeConcepts, conceptRows(snap.Concepts)); err != nil {
		return stats, fmt.Errorf("writing concepts: %w", err)
	}
	stats.Concepts = len(snap.Concepts)

	mentions := mentionRows(snap.Links)
	if err := g.writeBatches(ctx, session, mergeMentions, mentions); err != nil {
		return stats, fmt.Errorf("writing mentions: %w", err)
	}
	stats.Mentions = len(mentions)

	byLabel, skipped := relationshipRows(snap.Relationships)
	stats.Skipped = skipped
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, label := range labels {
		rows := byLabel[label]
		if err := g.writeBatches(ctx, session, fmt.Sprintf(mergeRelationships, label), rows); err != nil {
			return stats, fmt.Errorf("writing %s relationships: %w", label, err)
		}
		stats.Relationships += len(rows)
	}

	slog.Info("publish: neo4j sync complete",
		"papers", stats.Papers, "concepts", stats.Concepts,
		"mentions", stats.Mentions, "relationships", stats.Relationships, "skipped", stats.Skipped)
	return stats, nil
}

func (g *GraphSink) writeBatches(ctx context.Context, session neo4j.SessionWithContext, cypher string, rows []any) error {
	for start := 0; start < len(rows); start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, len(rows))
		batch := rows[start:end]
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, cypher, map[string]any{"rows": batch})
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func paperRows(papers []store.Paper) []any {
	rows := make([]any, len(papers))
	for i, p := range papers {
		authors := p.Authors
		if authors == nil {
			authors = []string{}
		}
		rows[i] = map[string]any{
			"id":             p.ID,
			"arxiv_id":       p.ArxivID,
			"title":          p.Title,
			"published":      p.PublishedDate,
			"authors":        authors,
			"is_seminal":     p.IsSeminal,
			"citation_count": int64(p.CitationCount),
		}
	}
	return rows
}

func conceptRows(concepts []store.Concept) []any {
	rows := make([]any, len(concepts))
	for i, c := range concepts {
		rows[i] = map[string]any{
			"id":            c.ID,
			"name":          c.Name,
			"category":      c.ConceptType,
			"mention_count": int64(c.MentionCount),
		}
	}
	return rows
}

func mentionRows(links map[int64][]store.PaperConcept) []any {
	ids := make([]int64, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []any
	for _, id := range ids {
		for _, l := range links[id] {
			rows = append(rows, map[string]any{
				"paper_id":   l.PaperID,
				"concept_id": l.ConceptID,
				"relevance":  l.Relevance,
			})
		}
	}
	return rows
}

// relationshipRows groups rows by relationship type label. Kindless and
// unknown kinds are counted as skipped.
func relationshipRows(rels []store.Relationship) (map[string][]any, int) {
	out := make(map[string][]any)
	skipped := 0
	for _, r := range rels {
		label, ok := RelTypeLabel(validation.RelationKind(r.RelationshipType))
		if !ok {
			skipped++
			continue
		}
		out[label] = append(out[label], map[string]any{
			"id":          r.ID,
			"source":      r.SourcePaperID,
			"target":      r.TargetPaperID,
			"confidence":  r.Confidence,
			"prior":       r.PriorConfidence,
			"explanation": r.Explanation,
			"validated":   r.Validated,
		})
	}
	return out, skipped
}
