// Package parser turns paper files (PDF, HTML, plain text) into the
// page-marked text stored as a paper's full text.
package parser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Document is the text extracted from one file.
type Document struct {
	// Text is the full text with "--- Page N ---" markers between pages.
	Text     string
	Pages    []Page
	Sections []Section
	Method   string // "pdf", "html", "text"
	Title    string
}

// Page is one page of extracted text. HTML and text sources yield a
// single page.
type Page struct {
	Number int
	Text   string
}

// Section is a heading-delimited span of the text.
type Section struct {
	Heading    string
	Content    string
	Level      int
	PageNumber int
}

// Parser extracts a Document from a file.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}

// Stats summarises extracted text.
type Stats struct {
	Chars int `json:"char_count"`
	Words int `json:"word_count"`
	Pages int `json:"page_markers"`
}

// PageMarker formats the separator written before each page.
func PageMarker(n int) string {
	return fmt.Sprintf("--- Page %d ---", n)
}

// TextStats counts characters, whitespace-separated words and page
// markers in text.
func TextStats(text string) Stats {
	if text == "" {
		return Stats{}
	}
	return Stats{
		Chars: len([]rune(text)),
		Words: len(strings.Fields(text)),
		Pages: strings.Count(text, "--- Page"),
	}
}

// Stats returns TextStats for the document text.
func (d *Document) Stats() Stats {
	return TextStats(d.Text)
}

// joinPages renders pages with markers and trims the result.
func joinPages(pages []Page) string {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString("\n")
		b.WriteString(PageMarker(p.Number))
		b.WriteString("\n")
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

// Body returns the text before the references section, or the whole text
// when no references heading is found. Bibliographies add noise to
// concept extraction.
func (d *Document) Body() string {
	var b strings.Builder
	for _, s := range d.Sections {
		if isReferencesHeading(s.Heading) {
			if body := strings.TrimSpace(b.String()); body != "" {
				return body
			}
			break
		}
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		b.WriteString(s.Content)
		b.WriteString("\n\n")
	}
	return d.Text
}

var pageMarkerRe = regexp.MustCompile(`^--- Page (\d+) ---$`)

// FromText rebuilds a Document from stored full text. Text without page
// markers becomes a single page.
func FromText(text string) *Document {
	doc := &Document{Text: text, Method: "text"}
	cur := Page{Number: 1}
	var lines []string
	flush := func() {
		cur.Text = strings.TrimSpace(strings.Join(lines, "\n"))
		if cur.Text != "" || len(doc.Pages) > 0 {
			doc.Pages = append(doc.Pages, cur)
			doc.Sections = append(doc.Sections, splitSections(cur.Text, cur.Number)...)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if m := pageMarkerRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if len(lines) > 0 {
				flush()
			}
			cur = Page{}
			cur.Number, _ = strconv.Atoi(m[1])
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return doc
}
