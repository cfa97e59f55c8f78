package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/report"
	"github.com/brunobiangulo/papergraph/validation"
)

func (c *cli) validateCmd() *cobra.Command {
	var (
		opts     papergraph.ValidateOptions
		export   string
		format   string
		noExport bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every stored concept and relationship",
		Long: `Run the consistency rules over every stored concept and relationship and
report the issues found. The report is exported to export.output_dir as
validation_<timestamp>.<format> unless --export names a file or
--no-export is given; the format follows the file extension.

With --mark, relationships that passed without a review flag are marked
validated in the store.

Examples:
  papergraph validate
  papergraph validate --only-issues --export reports/latest.xlsx
  papergraph validate --mark --no-export -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				var (
					run *papergraph.ValidationRun
					err error
				)
				if opts.Mark {
					err = c.withPipelineLock(func() error {
						run, err = eng.Validate(ctx, opts)
						return err
					})
				} else {
					run, err = eng.Validate(ctx, opts)
				}
				if err != nil {
					return err
				}

				path := ""
				if !noExport {
					path, err = c.exportPath(export, format, run.Report.GeneratedAt)
					if err != nil {
						return err
					}
					if err := run.Report.Save(path); err != nil {
						return err
					}
				}
				return c.printRun(run, path)
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.OnlyIssues, "only-issues", false, "leave records without issues out of the report")
	f.BoolVar(&opts.Mark, "mark", false, "mark relationships that passed as validated")
	f.StringVar(&export, "export", "", "report file; format from extension: json, yaml, csv, xlsx")
	f.StringVar(&format, "format", "", "report format when --export is not given (default export.format)")
	f.BoolVar(&noExport, "no-export", false, "do not write a report file")
	return cmd
}

// exportPath returns the explicit path or a timestamped name in the
// configured output directory.
func (c *cli) exportPath(explicit, format string, at time.Time) (string, error) {
	if explicit != "" {
		if _, err := report.ParseFormat(filepath.Ext(explicit)); err != nil {
			return "", err
		}
		return explicit, nil
	}
	if format == "" {
		format = c.cfg.Export.Format
	}
	f, err := report.ParseFormat(format)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("validation_%s.%s", at.UTC().Format("20060102_150405"), f)
	return filepath.Join(c.cfg.Export.OutputDir, name), nil
}

func (c *cli) printRun(run *papergraph.ValidationRun, path string) error {
	if c.jsonOutput() {
		return c.printJSON(struct {
			*papergraph.ValidationRun
			ExportPath string `json:"export_path,omitempty"`
		}{run, path})
	}

	r := run.Report
	es, rs := r.EntitySummary, r.RelationshipSummary
	c.printf("%s %s\n\n", titleStyle.Render("Validation run"), r.RunID)

	t := newTable("", "TOTAL", "VALID", "INVALID", "ERRORS", "WARNINGS", "INFO", "FLAGGED")
	t.Row("concepts", itoa(es.Total), itoa(es.Valid), itoa(es.Invalid), itoa(es.Errors), itoa(es.Warnings), itoa(es.Infos), "-")
	t.Row("relationships", itoa(rs.Total), itoa(rs.Valid), itoa(rs.Invalid), itoa(rs.Errors), itoa(rs.Warnings), itoa(rs.Infos), itoa(rs.Flagged))
	c.println(t.Render())

	if rules := r.RuleCounts(); len(rules) > 0 {
		rt := newTable("RULE", "SEVERITY", "COUNT")
		for _, rc := range rules {
			rt.Row(rc.Rule, severityStyle(rc.Severity).Render(string(rc.Severity)), itoa(rc.Count))
		}
		c.println(rt.Render())
	}
	if run.Marked > 0 {
		c.printf("%s marked %d relationships validated\n", passStyle.Render("✓"), run.Marked)
	}
	if path != "" {
		c.println(mutedStyle.Render("report: " + path))
	}
	return nil
}

func itoa(n int) string { return formatID(int64(n)) }

// errInvalidRecords is returned by check when any record is invalid, so
// scripts can test the exit status.
var errInvalidRecords = errors.New("invalid records found")

// entityInput is the check entity document: an entity plus its
// parent-paper relevance links.
type entityInput struct {
	validation.Entity
	Links []validation.WeightedItem `json:"links"`
}

func (c *cli) checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate hand-written concepts or relationships without a store",
		Long: `Run the validation rules over JSON records read from a file, or from
stdin when the file is "-" or omitted. A document holds one object or an
array of objects. The command fails when any record is invalid.

Entity fields: name, category, mention_count, links [{id, weight}].
Relationship fields: source_id, target_id, kind, confidence, explanation.

Examples:
  papergraph check entity concepts.json
  echo '{"name":"model","category":"method"}' | papergraph check entity
  papergraph check relationship -o json < rels.json`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "entity [file]",
			Short: "Validate concepts",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var in []entityInput
				if err := c.readRecords(args, &in); err != nil {
					return err
				}
				results := make([]validation.EntityResult, len(in))
				for i, e := range in {
					results[i] = validation.ValidateEntity(e.Entity, e.Links)
				}
				return c.printEntityChecks(in, results)
			},
		},
		&cobra.Command{
			Use:   "relationship [file]",
			Short: "Validate relationships with the configured review policy",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var in []validation.Relationship
				if err := c.readRecords(args, &in); err != nil {
					return err
				}
				policy := c.cfg.Validation.Policy()
				results := make([]validation.RelationshipResult, len(in))
				for i, r := range in {
					results[i] = policy.ValidateRelationship(r)
				}
				return c.printRelationshipChecks(in, results)
			},
		},
	)
	return cmd
}

// readRecords decodes one object or an array of objects into out, which
// must point to a slice.
func (c *cli) readRecords(args []string, out any) error {
	var r io.Reader = c.in
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("no input records")
	}
	if data[0] != '[' {
		data = append(append([]byte{'['}, data...), ']')
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding input: %w", err)
	}
	return nil
}

func (c *cli) printEntityChecks(in []entityInput, results []validation.EntityResult) error {
	if c.jsonOutput() {
		if err := c.printJSON(results); err != nil {
			return err
		}
	} else {
		t := newTable("#", "NAME", "VERDICT", "ISSUES")
		for i, e := range in {
			t.Row(itoa(i+1), truncate(e.Name, 40), verdict(results[i].IsValid), issueList(results[i].Issues))
		}
		c.println(t.Render())
	}
	for _, res := range results {
		if !res.IsValid {
			return errInvalidRecords
		}
	}
	return nil
}

func (c *cli) printRelationshipChecks(in []validation.Relationship, results []validation.RelationshipResult) error {
	if c.jsonOutput() {
		if err := c.printJSON(results); err != nil {
			return err
		}
	} else {
		t := newTable("#", "PAIR", "KIND", "CONFIDENCE", "VERDICT", "REVIEW", "ISSUES")
		for i, r := range in {
			res := results[i]
			review := "-"
			if res.ShouldFlagForReview {
				review = warnStyle.Render("flag")
			}
			t.Row(itoa(i+1), fmt.Sprintf("%d→%d", r.SourceID, r.TargetID), string(r.Kind),
				formatFloat(r.Confidence), verdict(res.IsValid), review, issueList(res.Issues))
		}
		c.println(t.Render())
	}
	for _, res := range results {
		if !res.IsValid {
			return errInvalidRecords
		}
	}
	return nil
}

func issueList(issues []validation.Issue) string {
	if len(issues) == 0 {
		return mutedStyle.Render("none")
	}
	var b bytes.Buffer
	for i, is := range issues {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(severityStyle(is.Severity).Render(is.Rule))
	}
	return b.String()
}
