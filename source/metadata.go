// Package source fetches paper metadata and PDFs from arXiv and Semantic
// Scholar and persists the local metadata catalogue.
package source

import (
	"strings"

	"github.com/brunobiangulo/papergraph/store"
)

// Search strategies recorded on catalogue entries.
const (
	StrategyDirectID  = "direct_id"
	StrategyCitations = "semantic_scholar_citations"
)

// Metadata is one catalogue entry, in the papers_metadata.json shape.
type Metadata struct {
	ArxivID                  string   `json:"arxiv_id"`
	Title                    string   `json:"title"`
	Authors                  []string `json:"authors"`
	Abstract                 string   `json:"abstract,omitempty"`
	Published                string   `json:"published,omitempty"`
	Updated                  string   `json:"updated,omitempty"`
	PDFURL                   string   `json:"pdf_url,omitempty"`
	Categories               []string `json:"categories,omitempty"`
	PrimaryCategory          string   `json:"primary_category,omitempty"`
	IsSeminal                bool     `json:"is_seminal"`
	CitesSeminal             bool     `json:"cites_seminal,omitempty"`
	SearchStrategy           string   `json:"search_strategy,omitempty"`
	LocalPDFPath             string   `json:"local_pdf_path,omitempty"`
	SemanticScholarID        string   `json:"semantic_scholar_id,omitempty"`
	CitationCount            int      `json:"citation_count,omitempty"`
	InfluentialCitationCount int      `json:"influential_citation_count,omitempty"`
}

// PublishedDate returns the YYYY-MM-DD part of Published.
func (m Metadata) PublishedDate() string {
	d, _, _ := strings.Cut(m.Published, "T")
	return d
}

// Paper converts the entry to a store row.
func (m Metadata) Paper() store.Paper {
	return store.Paper{
		ArxivID:           m.ArxivID,
		Title:             m.Title,
		Abstract:          m.Abstract,
		Authors:           m.Authors,
		PublishedDate:     m.PublishedDate(),
		PDFPath:           m.LocalPDFPath,
		IsSeminal:         m.IsSeminal,
		CitesSeminal:      m.CitesSeminal,
		SemanticScholarID: m.SemanticScholarID,
		CitationCount:     m.CitationCount,
	}
}
