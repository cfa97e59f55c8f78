package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// HTMLParser converts HTML renderings of papers (arXiv HTML, ar5iv) to
// markdown text.
type HTMLParser struct {
	converter *md.Converter
}

// NewHTMLParser creates an HTMLParser with GitHub-flavoured tables.
func NewHTMLParser() *HTMLParser {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	c.Remove("script", "style", "nav", "header", "footer", "noscript", "button", "form")
	return &HTMLParser{converter: c}
}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html", "htm"} }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading html file: %w", err)
	}
	doc, err := p.Convert(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Convert turns an HTML page into a single-page Document.
func (p *HTMLParser) Convert(content string) (*Document, error) {
	title, main := mainContent(content)
	markdown, err := p.converter.ConvertString(main)
	if err != nil {
		return nil, fmt.Errorf("converting html: %w", err)
	}
	markdown = cleanMarkdown(markdown)
	if markdown == "" {
		return nil, ErrNoText
	}
	return &Document{
		Text:     markdown,
		Pages:    []Page{{Number: 1, Text: markdown}},
		Sections: splitSections(markdown, 1),
		Method:   "html",
		Title:    title,
	}, nil
}

// mainContent returns the page title and the HTML of the <article> or
// <main> element, falling back to the whole document.
func mainContent(content string) (string, string) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", content
	}

	var title string
	var article, mainEl *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "article":
				if article == nil {
					article = n
				}
			case "main":
				if mainEl == nil {
					mainEl = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	pick := article
	if pick == nil {
		pick = mainEl
	}
	if pick == nil {
		return title, content
	}
	var sb strings.Builder
	if err := html.Render(&sb, pick); err != nil {
		return title, content
	}
	return title, sb.String()
}

func cleanMarkdown(s string) string {
	s = excessiveLinesRe.ReplaceAllString(s, "\n\n\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
