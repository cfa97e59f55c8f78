package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

const defaultS2API = "https://api.semanticscholar.org/graph/v1"

// S2Client talks to the Semantic Scholar Graph API.
type S2Client struct {
	BaseURL string
	APIKey  string
	f       *fetcher
}

// NewS2Client returns a client spacing requests by delay.
func NewS2Client(apiKey string, delay time.Duration) *S2Client {
	return &S2Client{BaseURL: defaultS2API, APIKey: apiKey, f: newFetcher(delay)}
}

// S2Paper is the subset of a Semantic Scholar paper record we use.
type S2Paper struct {
	PaperID     string         `json:"paperId"`
	Title       string         `json:"title"`
	Abstract    string         `json:"abstract"`
	Year        int            `json:"year"`
	ExternalIDs map[string]any `json:"externalIds"`
	Authors     []S2Author     `json:"authors"`
	Citations   int            `json:"citationCount"`
	Influential int            `json:"influentialCitationCount"`
}

// S2Author is an author entry on an S2Paper.
type S2Author struct {
	Name string `json:"name"`
}

// ArxivID returns the paper's arXiv ID, if it has one.
func (p S2Paper) ArxivID() string {
	if v, ok := p.ExternalIDs["ArXiv"].(string); ok {
		return NormalizeArxivID(v)
	}
	return ""
}

func (c *S2Client) getJSON(ctx context.Context, path string, params url.Values, v any) error {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var headers map[string]string
	if c.APIKey != "" {
		headers = map[string]string{"x-api-key": c.APIKey}
	}
	body, err := c.f.get(ctx, u, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// LookupArxiv resolves an arXiv ID to its Semantic Scholar record.
func (c *S2Client) LookupArxiv(ctx context.Context, arxivID string) (*S2Paper, error) {
	params := url.Values{"fields": {"paperId,title,citationCount"}}
	var p S2Paper
	if err := c.getJSON(ctx, "/paper/ARXIV:"+NormalizeArxivID(arxivID), params, &p); err != nil {
		return nil, fmt.Errorf("semantic scholar lookup %s: %w", arxivID, err)
	}
	return &p, nil
}

// CitationStats reports what Citations skipped.
type CitationStats struct {
	Retrieved      int `json:"retrieved"`
	Collected      int `json:"collected"`
	SkippedNoArxiv int `json:"skipped_no_arxiv"`
	SkippedKnown   int `json:"skipped_duplicate"`
}

// Citations returns up to max papers citing s2PaperID that have arXiv IDs
// and are not in known. Entries are marked CitesSeminal; their Published
// date is approximated from the year.
func (c *S2Client) Citations(ctx context.Context, s2PaperID string, max int, known map[string]bool) ([]Metadata, CitationStats, error) {
	var stats CitationStats
	if known == nil {
		known = make(map[string]bool)
	}
	params := url.Values{
		"fields": {"paperId,externalIds,title,abstract,authors,year,citationCount,influentialCitationCount"},
		"limit":  {"1000"},
	}
	var resp struct {
		Data []struct {
			CitingPaper S2Paper `json:"citingPaper"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/paper/"+s2PaperID+"/citations", params, &resp); err != nil {
		return nil, stats, fmt.Errorf("fetching citations: %w", err)
	}
	stats.Retrieved = len(resp.Data)

	var out []Metadata
	for _, d := range resp.Data {
		if len(out) >= max {
			break
		}
		p := d.CitingPaper
		id := p.ArxivID()
		if id == "" {
			stats.SkippedNoArxiv++
			continue
		}
		if known[id] {
			stats.SkippedKnown++
			continue
		}
		known[id] = true

		m := Metadata{
			ArxivID:                  id,
			Title:                    squash(p.Title),
			Abstract:                 squash(p.Abstract),
			SemanticScholarID:        p.PaperID,
			CitationCount:            p.Citations,
			InfluentialCitationCount: p.Influential,
			CitesSeminal:             true,
			SearchStrategy:           StrategyCitations,
		}
		if m.Title == "" {
			m.Title = "Unknown"
		}
		if p.Year > 0 {
			m.Published = strconv.Itoa(p.Year) + "-01-01T00:00:00"
		}
		for _, a := range p.Authors {
			m.Authors = append(m.Authors, a.Name)
		}
		out = append(out, m)
	}
	stats.Collected = len(out)
	slog.Info("source: collected citing papers",
		"collected", stats.Collected, "skipped_no_arxiv", stats.SkippedNoArxiv, "skipped_duplicate", stats.SkippedKnown)
	return out, stats, nil
}
