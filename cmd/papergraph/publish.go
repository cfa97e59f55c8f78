package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
)

func (c *cli) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Mirror the graph into Neo4j and the embeddings into Qdrant",
		Long: `Write the stored papers, concepts and relationships to Neo4j and the
abstract embeddings to Qdrant, for whichever of publish.neo4j.url and
publish.qdrant.addr is configured. Writes are idempotent, so publish can
be re-run after every pipeline stage.

Examples:
  PAPERGRAPH_PUBLISH_NEO4J_URL=neo4j://localhost:7687 papergraph publish
  papergraph publish -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				res, err := eng.Publish(ctx)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(res)
				}
				if g := res.Graph; g != nil {
					c.printf("%s neo4j: %d papers, %d concepts, %d mentions, %d relationships (%d without kind skipped)\n",
						passStyle.Render("✓"), g.Papers, g.Concepts, g.Mentions, g.Relationships, g.Skipped)
				}
				if res.Vectors > 0 {
					c.printf("%s qdrant: %d paper vectors\n", passStyle.Render("✓"), res.Vectors)
				}
				return nil
			})
		},
	}
}
