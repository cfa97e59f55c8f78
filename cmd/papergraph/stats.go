package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/store"
)

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the contents of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				st, err := eng.Statistics(ctx)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(st)
				}
				c.printStats(st)
				return nil
			})
		},
	}
}

func (c *cli) printStats(st *store.Statistics) {
	c.println(titleStyle.Render("Knowledge graph"))
	t := newTable("", "COUNT")
	t.Row("papers", itoa(st.TotalPapers))
	t.Row("papers with text", itoa(st.PapersWithText))
	t.Row("papers with concepts", itoa(st.PapersWithConcepts))
	t.Row("concepts", itoa(st.TotalConcepts))
	t.Row("relationships", itoa(st.TotalRelationships))
	t.Row("validated relationships", itoa(st.ValidatedRelationships))
	t.Row("relationships per paper", formatFloat(st.AvgRelationshipsPerPaper))
	failed := itoa(st.FailedExtractions)
	if st.FailedExtractions > 0 {
		failed = warnStyle.Render(failed)
	}
	t.Row("failed extractions", failed)
	c.println(t.Render())

	if len(st.ByType) > 0 {
		bt := newTable("KIND", "COUNT", "AVG CONFIDENCE")
		for _, tc := range st.ByType {
			kind := tc.Type
			if kind == "" {
				kind = mutedStyle.Render("none")
			}
			bt.Row(kind, itoa(tc.Count), formatFloat(tc.AvgConfidence))
		}
		c.println(bt.Render())
	}

	if len(st.TopConcepts) > 0 {
		ct := newTable("TOP CONCEPT", "CATEGORY", "MENTIONS")
		for _, con := range st.TopConcepts {
			ct.Row(truncate(con.Name, 48), con.ConceptType, itoa(con.MentionCount))
		}
		c.println(ct.Render())
	}
}
