package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/papergraph/validation"
)

// Format names an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Write encodes the report to w.
func (r *Report) Write(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatYAML:
		return r.WriteYAML(w)
	case FormatCSV:
		return r.WriteCSV(w)
	case FormatXLSX:
		return r.WriteXLSX(w)
	}
	return fmt.Errorf("unknown report format %q", f)
}

// Save writes the report to path, creating parent directories. The format
// comes from the file extension.
func (r *Report) Save(path string) error {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := r.Write(out, f); err != nil {
		out.Close()
		return fmt.Errorf("writing %s report: %w", f, err)
	}
	return out.Close()
}

// WriteJSON writes indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

var issueHeader = []string{
	"record_type", "record_id", "label", "is_valid", "flagged_for_review",
	"severity", "rule", "field", "current_value", "message", "suggested_fix",
}

// issueRows flattens the report to one row per issue.
func (r *Report) issueRows() [][]string {
	var rows [][]string
	for _, e := range r.Entities {
		for _, is := range e.Issues {
			rows = append(rows, issueRow("entity", e.ConceptID, e.Name, e.IsValid, false, is))
		}
	}
	for _, rel := range r.Relationships {
		label := fmt.Sprintf("%d -> %d (%s)", rel.SourcePaperID, rel.TargetPaperID, kindLabel(rel.Kind))
		for _, is := range rel.Issues {
			rows = append(rows, issueRow("relationship", rel.RelationshipID, label, rel.IsValid, rel.ShouldFlagForReview, is))
		}
	}
	return rows
}

func issueRow(kind string, id int64, label string, valid, flagged bool, is validation.Issue) []string {
	cur := ""
	if is.CurrentValue != nil {
		cur = fmt.Sprint(is.CurrentValue)
	}
	return []string{
		kind, strconv.FormatInt(id, 10), label,
		strconv.FormatBool(valid), strconv.FormatBool(flagged),
		string(is.Severity), is.Rule, is.Field, cur, is.Message, is.SuggestedFix,
	}
}

func kindLabel(k string) string {
	if k == "" {
		return "none"
	}
	return k
}

// WriteCSV writes one row per issue.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(issueHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(r.issueRows()); err != nil {
		return err
	}
	return cw.Error()
}

// Sheet names used by WriteXLSX.
const (
	SheetSummary            = "Summary"
	SheetEntityIssues       = "Entity Issues"
	SheetRelationshipIssues = "Relationship Issues"
)

// WriteXLSX writes a workbook with a summary sheet and one issue sheet per
// record type.
func (r *Report) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	es, rs := r.EntitySummary, r.RelationshipSummary
	summary := [][]any{
		{"Run ID", r.RunID},
		{"Generated at", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
		{"Review threshold", r.Policy.ReviewThreshold},
		{},
		{"", "Entities", "Relationships"},
		{"Total", es.Total, rs.Total},
		{"Valid", es.Valid, rs.Valid},
		{"Invalid", es.Invalid, rs.Invalid},
		{"Errors", es.Errors, rs.Errors},
		{"Warnings", es.Warnings, rs.Warnings},
		{"Info", es.Infos, rs.Infos},
		{"Flagged for review", "", rs.Flagged},
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "A1", "A12", bold); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "B5", "C5", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "A", "A", 22); err != nil {
		return err
	}

	var entRows, relRows [][]any
	for _, row := range r.issueRows() {
		vals := make([]any, len(row)-1)
		for i, v := range row[1:] {
			vals[i] = v
		}
		if row[0] == "entity" {
			entRows = append(entRows, vals)
		} else {
			relRows = append(relRows, vals)
		}
	}
	header := make([]any, len(issueHeader)-1)
	for i, h := range issueHeader[1:] {
		header[i] = h
	}

	for _, sheet := range []struct {
		name string
		rows [][]any
	}{
		{SheetEntityIssues, entRows},
		{SheetRelationshipIssues, relRows},
	} {
		if _, err := f.NewSheet(sheet.name); err != nil {
			return err
		}
		if err := writeRows(f, sheet.name, append([][]any{header}, sheet.rows...)); err != nil {
			return err
		}
		last, err := excelize.CoordinatesToCellName(len(header), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet.name, "A1", last, bold); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet.name, "B", "B", 40); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet.name, "I", "J", 60); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// FormatText renders the console summary of a run.
func (r *Report) FormatText() string {
	var b strings.Builder
	es, rs := r.EntitySummary, r.RelationshipSummary

	fmt.Fprintf(&b, "Validation run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "Entities:       %d total, %d valid, %d invalid (%d errors, %d warnings, %d info)\n",
		es.Total, es.Valid, es.Invalid, es.Errors, es.Warnings, es.Infos)
	fmt.Fprintf(&b, "Relationships:  %d total, %d valid, %d invalid (%d errors, %d warnings, %d info)\n",
		rs.Total, rs.Valid, rs.Invalid, rs.Errors, rs.Warnings, rs.Infos)
	fmt.Fprintf(&b, "Flagged for review: %d\n", rs.Flagged)

	rules := r.RuleCounts()
	if len(rules) > 0 {
		b.WriteString("\nIssues by rule:\n")
		for _, rc := range rules {
			fmt.Fprintf(&b, "  %-28s %-8s %d\n", rc.Rule, rc.Severity, rc.Count)
		}
	}
	return b.String()
}

// RuleCount is the number of issues raised by one rule.
type RuleCount struct {
	Rule     string              `json:"rule" yaml:"rule"`
	Severity validation.Severity `json:"severity" yaml:"severity"`
	Count    int                 `json:"count" yaml:"count"`
}

// RuleCounts tallies issues in the report by rule, most frequent first.
func (r *Report) RuleCounts() []RuleCount {
	idx := make(map[string]int)
	var out []RuleCount
	add := func(is validation.Issue) {
		key := is.Rule + "/" + string(is.Severity)
		if i, ok := idx[key]; ok {
			out[i].Count++
			return
		}
		idx[key] = len(out)
		out = append(out, RuleCount{Rule: is.Rule, Severity: is.Severity, Count: 1})
	}
	for _, e := range r.Entities {
		for _, is := range e.Issues {
			add(is)
		}
	}
	for _, rel := range r.Relationships {
		for _, is := range rel.Issues {
			add(is)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}
