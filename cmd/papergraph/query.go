package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/graph"
	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

func (c *cli) papersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "papers",
		Short: "List stored papers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				papers, err := eng.ListPapers(ctx)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(papers)
				}
				t := newTable("ID", "ARXIV", "TITLE", "PUBLISHED", "TEXT", "SEMINAL")
				for _, p := range papers {
					t.Row(formatID(p.ID), p.ArxivID, truncate(p.Title, 60), p.PublishedDate, yesNo(p.HasText), yesNo(p.IsSeminal))
				}
				c.println(t.Render())
				return nil
			})
		},
	}
}

func (c *cli) paperCmd() *cobra.Command {
	var minConf float64
	cmd := &cobra.Command{
		Use:   "paper <paper>",
		Short: "Show a paper with its relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				id, err := resolvePaperID(ctx, eng, args[0])
				if err != nil {
					return err
				}
				p, err := eng.GetPaper(ctx, id)
				if err != nil {
					return err
				}
				rels, err := eng.PaperRelationships(ctx, id, minConf)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(struct {
						*store.Paper
						Relationships []store.Relationship `json:"relationships"`
					}{p, rels})
				}

				c.printf("%s  %s\n", titleStyle.Render(p.Title), mutedStyle.Render(p.ArxivID))
				if len(p.Authors) > 0 {
					c.printf("  %s\n", strings.Join(p.Authors, ", "))
				}
				c.printf("  published %s, %d citations\n", p.PublishedDate, p.CitationCount)
				if p.Abstract != "" {
					c.printf("\n%s\n", truncate(p.Abstract, 600))
				}
				if len(rels) == 0 {
					c.println(mutedStyle.Render("\nno relationships"))
					return nil
				}
				c.println("")
				c.println(relationshipTable(rels).Render())
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minConf, "min-confidence", 0, "hide relationships below this confidence")
	return cmd
}

func relationshipTable(rels []store.Relationship) *table.Table {
	t := newTable("ID", "SOURCE", "TARGET", "KIND", "CONFIDENCE", "PRIOR", "VALIDATED", "EXPLANATION")
	for _, r := range rels {
		t.Row(formatID(r.ID), formatID(r.SourcePaperID), formatID(r.TargetPaperID), r.RelationshipType,
			formatFloat(r.Confidence), formatFloat(r.PriorConfidence), yesNo(r.Validated), truncate(r.Explanation, 60))
	}
	return t
}

func (c *cli) searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search titles and abstracts by text and embedding",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				hits, err := eng.Search(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(hits)
				}
				for i, h := range hits {
					c.printf("%d. %s  %s  %s\n", i+1, titleStyle.Render(h.Paper.Title),
						mutedStyle.Render(h.Paper.ArxivID), mutedStyle.Render(strings.Join(h.Methods, "+")))
					if h.Snippet != "" {
						c.printf("   %s\n", h.Snippet)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	return cmd
}

func (c *cli) similarCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "similar <paper>",
		Short: "Papers with the nearest abstract embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				id, err := resolvePaperID(ctx, eng, args[0])
				if err != nil {
					return err
				}
				results, err := eng.Similar(ctx, id, k)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(results)
				}
				t := newTable("ID", "ARXIV", "TITLE", "SCORE")
				for _, r := range results {
					t.Row(formatID(r.Paper.ID), r.Paper.ArxivID, truncate(r.Paper.Title, 60), formatFloat(r.Score))
				}
				c.println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 10, "number of neighbours")
	return cmd
}

func (c *cli) lineageCmd() *cobra.Command {
	var (
		direction string
		kinds     []string
		minConf   float64
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "lineage <paper>",
		Short: "Walk the relationship graph from a paper",
		Long: `Walk the relationship graph breadth-first from a paper. Ancestors are the
papers it builds on, descendants the papers building on it.

Examples:
  papergraph lineage 2308.04079 --direction descendants --depth 2
  papergraph lineage 12 --kinds builds_on,extends --min-confidence 0.6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := graph.LineageQuery{Direction: graph.Direction(direction), MinConfidence: minConf, MaxDepth: depth}
			switch q.Direction {
			case graph.Ancestors, graph.Descendants, graph.Both:
			default:
				return fmt.Errorf("--direction must be ancestors, descendants or both")
			}
			for _, k := range kinds {
				kind, err := validation.ParseRelationKind(k)
				if err != nil {
					return err
				}
				q.Kinds = append(q.Kinds, kind)
			}

			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				id, err := resolvePaperID(ctx, eng, args[0])
				if err != nil {
					return err
				}
				q.SeedID = id
				nodes, err := eng.Lineage(ctx, q)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(nodes)
				}
				for _, n := range nodes {
					title := formatID(n.PaperID)
					if p, err := eng.GetPaper(ctx, n.PaperID); err == nil {
						title = p.Title
					}
					line := strings.Repeat("  ", n.Depth) + truncate(title, 70)
					if n.Via != nil {
						line += mutedStyle.Render(fmt.Sprintf("  (%s %s)", n.Via.RelationshipType, formatFloat(n.Via.Confidence)))
					} else {
						line = titleStyle.Render(line)
					}
					c.println(line)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&direction, "direction", string(graph.Ancestors), "ancestors, descendants or both")
	f.StringSliceVar(&kinds, "kinds", nil, "relationship kinds to follow (default every kind)")
	f.Float64Var(&minConf, "min-confidence", 0, "ignore relationships below this confidence")
	f.IntVar(&depth, "depth", 3, "maximum hops from the paper")
	return cmd
}

func (c *cli) clustersCmd() *cobra.Command {
	var minConf float64
	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Group papers into clusters of related work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				clusters, err := eng.Clusters(ctx, minConf)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(clusters)
				}
				if len(clusters) == 0 {
					c.println(mutedStyle.Render("no clusters"))
					return nil
				}
				t := newTable("#", "LEVEL", "PAPERS", "MEMBERS")
				for i, cl := range clusters {
					ids := make([]string, len(cl.PaperIDs))
					for j, id := range cl.PaperIDs {
						ids[j] = formatID(id)
					}
					t.Row(itoa(i+1), itoa(cl.Level), itoa(len(cl.PaperIDs)), truncate(strings.Join(ids, " "), 60))
				}
				c.println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minConf, "min-confidence", 0.5, "ignore relationships below this confidence")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
