package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/validation"
)

func (c *cli) priorCmd() *cobra.Command {
	var shared []float64
	cmd := &cobra.Command{
		Use:   "prior [paper-a paper-b]",
		Short: "Compute the concept-overlap confidence prior of a paper pair",
		Long: `Compute the prior confidence that two papers are related from the
concepts they share, without calling a model. Each shared concept adds by
its mean relevance: 0.15 from 0.7, 0.08 from 0.5, 0.04 from 0.4. The sum
is clamped to [0.30, 0.85].

Give two stored papers (store ID or arXiv ID), or the mean relevance of
each shared concept with --shared.

Examples:
  papergraph prior 2308.04079 2311.16493
  papergraph prior --shared 0.9,0.75,0.45`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("shared") {
				if len(args) != 0 {
					return errors.New("give either two papers or --shared, not both")
				}
				return c.printPrior(adHocPrior(shared))
			}
			if len(args) != 2 {
				return errors.New("need two papers, or --shared weights")
			}
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				ids, err := resolvePaperIDs(ctx, eng, args)
				if err != nil {
					return err
				}
				est, err := eng.Prior(ctx, ids[0], ids[1])
				if err != nil {
					return err
				}
				return c.printPrior(est)
			})
		},
	}
	cmd.Flags().Float64SliceVar(&shared, "shared", nil, "mean relevance of each shared concept, comma separated")
	return cmd
}

// adHocPrior estimates the prior of hand-given shared weights.
func adHocPrior(weights []float64) *papergraph.PriorEstimate {
	items := make([]validation.SharedItem, len(weights))
	names := make([]string, len(weights))
	for i, w := range weights {
		items[i] = validation.SharedItem{ID: int64(i + 1), AvgWeight: w}
		names[i] = fmt.Sprintf("#%d", i+1)
	}
	return &papergraph.PriorEstimate{
		Shared:      items,
		SharedNames: names,
		Prior:       validation.EstimateConfidencePrior(items),
	}
}

// band names the contribution band of a shared weight.
func band(w float64) string {
	switch {
	case w >= validation.HighBandMin:
		return "high"
	case w >= validation.MediumBandMin:
		return "medium"
	case w >= validation.LowBandMin:
		return "low"
	}
	return "none"
}

func (c *cli) printPrior(est *papergraph.PriorEstimate) error {
	if c.jsonOutput() {
		return c.printJSON(est)
	}
	if est.PaperA != 0 {
		c.printf("%s papers %d and %d\n", titleStyle.Render("Prior"), est.PaperA, est.PaperB)
	} else {
		c.println(titleStyle.Render("Prior"))
	}
	c.printf("  confidence prior: %s\n", formatFloat(est.Prior))
	c.printf("  shared concepts:  %d\n", len(est.Shared))
	if len(est.Shared) == 0 {
		return nil
	}

	t := newTable("CONCEPT", "MEAN RELEVANCE", "BAND")
	for i, s := range est.Shared {
		name := formatID(s.ID)
		if i < len(est.SharedNames) {
			name = est.SharedNames[i]
		}
		t.Row(truncate(name, 48), formatFloat(s.AvgWeight), band(s.AvgWeight))
	}
	c.println(t.Render())
	return nil
}
