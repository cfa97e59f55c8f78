package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for extensions without a parser.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// Registry maps file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the PDF, HTML and text parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, NewHTMLParser(), &TextParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for a format (extension without the dot).
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Parse picks a parser by the file extension of path.
func (r *Registry) Parse(ctx context.Context, path string) (*Document, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	p, err := r.Get(ext)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, path)
}

var defaultRegistry = NewRegistry()

// ExtractText parses path with the default registry.
func ExtractText(ctx context.Context, path string) (*Document, error) {
	return defaultRegistry.Parse(ctx, path)
}
