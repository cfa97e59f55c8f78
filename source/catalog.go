package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadCatalog reads a metadata catalogue. A missing file yields an empty
// catalogue.
func LoadCatalog(path string) ([]Metadata, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var papers []Metadata
	if err := json.Unmarshal(data, &papers); err != nil {
		return nil, fmt.Errorf("decoding catalog %s: %w", path, err)
	}
	return papers, nil
}

// SaveCatalog writes the catalogue atomically as indented JSON.
func SaveCatalog(path string, papers []Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating catalog dir: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(papers); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return os.Rename(tmp, path)
}

// Merge appends entries from add whose arXiv IDs are not already in base.
// It returns the merged slice and the number of entries added.
func Merge(base, add []Metadata) ([]Metadata, int) {
	seen := make(map[string]bool, len(base))
	for _, m := range base {
		seen[m.ArxivID] = true
	}
	added := 0
	for _, m := range add {
		if m.ArxivID == "" || seen[m.ArxivID] {
			continue
		}
		seen[m.ArxivID] = true
		base = append(base, m)
		added++
	}
	return base, added
}

// WriteSummaryCSV writes a one-line-per-paper overview of the catalogue.
func WriteSummaryCSV(path string, papers []Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"arxiv_id", "title", "authors", "published", "has_pdf", "search_strategy", "cites_seminal"})
	for _, p := range papers {
		authors := p.Authors
		if len(authors) > 2 {
			authors = authors[:2]
		}
		published := p.PublishedDate()
		if published == "" {
			published = "Unknown"
		}
		strategy := p.SearchStrategy
		if strategy == "" {
			strategy = "unknown"
		}
		w.Write([]string{
			p.ArxivID,
			strings.Join(strings.Fields(p.Title), " "),
			strings.Join(authors, "; "),
			published,
			yesNo(p.LocalPDFPath != ""),
			strategy,
			yesNo(p.CitesSeminal),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
