package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a file yields no extractable text, for
// example a scanned PDF without a text layer.
var ErrNoText = errors.New("parser: no extractable text")

// PDFParser extracts the text layer of a PDF page by page.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	doc := &Document{Method: "pdf"}
	empty := 0

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("parser: skipping unreadable page", "path", path, "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			empty++
		}
		// Empty pages keep their marker so page numbers stay aligned.
		doc.Pages = append(doc.Pages, Page{Number: i, Text: text})
		doc.Sections = append(doc.Sections, splitSections(text, i)...)
	}

	if len(doc.Pages) == 0 || empty == len(doc.Pages) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoText)
	}
	doc.Text = joinPages(doc.Pages)
	return doc, nil
}
