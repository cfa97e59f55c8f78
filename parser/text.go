package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextParser passes plain text and markdown through unchanged.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoText)
	}
	return &Document{
		Text:     text,
		Pages:    []Page{{Number: 1, Text: text}},
		Sections: splitSections(text, 1),
		Method:   "text",
	}, nil
}
