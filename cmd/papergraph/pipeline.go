package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/graph"
	"github.com/brunobiangulo/papergraph/source"
	"github.com/brunobiangulo/papergraph/store"
)

func (c *cli) extractCmd() *cobra.Command {
	var redo bool
	cmd := &cobra.Command{
		Use:   "extract [paper]...",
		Short: "Extract key concepts from papers with the chat model",
		Long: `Extract the key concepts of each paper from its full text, or its abstract
when no text was extracted, and link them with relevance scores.

Without arguments every paper that has no concepts yet is processed. A
paper is given by store ID or arXiv ID.

Examples:
  papergraph extract
  papergraph extract 2308.04079 --redo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				ids, err := resolvePaperIDs(ctx, eng, args)
				if err != nil {
					return err
				}
				var res *graph.BatchResult
				err = c.withPipelineLock(func() error {
					var err error
					res, err = eng.ExtractConcepts(ctx, papergraph.ExtractOptions{PaperIDs: ids, Redo: redo})
					return err
				})
				if res != nil {
					if perr := c.reportBatch("concept extraction", res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&redo, "redo", false, "re-extract papers that already have concepts")
	return cmd
}

func (c *cli) relateCmd() *cobra.Command {
	var opts papergraph.DiscoverOptions
	cmd := &cobra.Command{
		Use:   "relate",
		Short: "Classify relationships between papers that share concepts",
		Long: `Find paper pairs that share enough relevant concepts and ask the chat
model how they relate. Each stored confidence blends the model's judgment
with the concept-overlap prior.

With --neighbours k, each paper is also paired with its k nearest papers by
abstract embedding, which finds related papers whose extracted concepts
happen not to overlap.

Examples:
  papergraph relate
  papergraph relate --min-shared 3 --max-pairs 200
  papergraph relate --neighbours 5 --redo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				var res *graph.BatchResult
				err := c.withPipelineLock(func() error {
					var err error
					res, err = eng.DiscoverRelationships(ctx, opts)
					return err
				})
				if res != nil {
					if perr := c.reportBatch("relationship discovery", res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.MinShared, "min-shared", 0, "minimum shared concepts per pair (default extraction.min_shared)")
	f.Float64Var(&opts.MinRelevance, "min-relevance", 0, "relevance a concept needs on both papers (default extraction.min_relevance)")
	f.IntVar(&opts.MaxPairs, "max-pairs", 0, "maximum pairs to classify (default extraction.max_pairs)")
	f.IntVar(&opts.Neighbours, "neighbours", 0, "also pair each paper with its k nearest neighbours by embedding")
	f.BoolVar(&opts.Redo, "redo", false, "re-classify pairs that already have a relationship")
	return cmd
}

func (c *cli) reportBatch(stage string, res *graph.BatchResult) error {
	if c.jsonOutput() {
		return c.printJSON(res)
	}
	mark := passStyle.Render("✓")
	if res.Failed > 0 {
		mark = warnStyle.Render("!")
	}
	c.printf("%s %s: %d of %d succeeded, %d failed\n", mark, stage, res.Succeeded, res.Total, res.Failed)
	for _, e := range res.Errors {
		c.println("  " + warnStyle.Render(e))
	}
	return nil
}

// resolvePaperID accepts a store ID or an arXiv ID.
func resolvePaperID(ctx context.Context, eng papergraph.Engine, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	p, err := eng.Backend().GetPaperByArxivID(ctx, source.NormalizeArxivID(arg))
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("paper %s: %w", arg, papergraph.ErrPaperNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up paper %s: %w", arg, err)
	}
	return p.ID, nil
}

func resolvePaperIDs(ctx context.Context, eng papergraph.Engine, args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := resolvePaperID(ctx, eng, a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
