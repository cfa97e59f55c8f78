package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultArxivAPI  = "http://export.arxiv.org/api/query"
	defaultArxivSite = "https://arxiv.org"
)

// ArxivClient queries the arXiv Atom API and downloads PDFs.
type ArxivClient struct {
	APIURL  string
	SiteURL string
	f       *fetcher
}

// NewArxivClient returns a client that waits delay between requests.
// arXiv asks API users to keep at least a few seconds between calls.
func NewArxivClient(delay time.Duration) *ArxivClient {
	return &ArxivClient{APIURL: defaultArxivAPI, SiteURL: defaultArxivSite, f: newFetcher(delay)}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"link"`
	Primary struct {
		Term string `xml:"term,attr"`
	} `xml:"primary_category"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

var versionSuffix = regexp.MustCompile(`v\d+$`)

// NormalizeArxivID strips URL prefixes and version suffixes:
// "http://arxiv.org/abs/2308.04079v2" becomes "2308.04079".
func NormalizeArxivID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	id = strings.TrimPrefix(id, "arXiv:")
	return versionSuffix.ReplaceAllString(id, "")
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (e atomEntry) metadata() Metadata {
	m := Metadata{
		ArxivID:         NormalizeArxivID(e.ID),
		Title:           squash(e.Title),
		Abstract:        squash(e.Summary),
		Published:       e.Published,
		Updated:         e.Updated,
		PrimaryCategory: e.Primary.Term,
	}
	for _, a := range e.Authors {
		m.Authors = append(m.Authors, squash(a.Name))
	}
	for _, c := range e.Categories {
		m.Categories = append(m.Categories, c.Term)
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			m.PDFURL = l.Href
		}
	}
	return m
}

func (c *ArxivClient) query(ctx context.Context, params url.Values) ([]Metadata, error) {
	body, err := c.f.get(ctx, c.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decoding arXiv feed: %w", err)
	}
	out := make([]Metadata, 0, len(feed.Entries))
	seen := make(map[string]bool)
	for _, e := range feed.Entries {
		m := e.metadata()
		// The API reports unknown IDs as an entry titled "Error".
		if m.ArxivID == "" || m.Title == "Error" || seen[m.ArxivID] {
			continue
		}
		seen[m.ArxivID] = true
		out = append(out, m)
	}
	return out, nil
}

// Lookup fetches metadata for specific arXiv IDs.
func (c *ArxivClient) Lookup(ctx context.Context, ids ...string) ([]Metadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	clean := make([]string, len(ids))
	for i, id := range ids {
		clean[i] = NormalizeArxivID(id)
	}
	params := url.Values{}
	params.Set("id_list", strings.Join(clean, ","))
	params.Set("max_results", strconv.Itoa(len(clean)))
	papers, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("arXiv lookup: %w", err)
	}
	for i := range papers {
		papers[i].SearchStrategy = StrategyDirectID
	}
	return papers, nil
}

// Search runs an arXiv query (for example `ti:"Gaussian Splatting"`) and
// returns up to max papers by relevance, tagged with strategy.
func (c *ArxivClient) Search(ctx context.Context, query string, max int, strategy string) ([]Metadata, error) {
	if max <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	// Over-fetch; duplicates are dropped.
	params.Set("max_results", strconv.Itoa(max*2))
	params.Set("sortBy", "relevance")

	papers, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("arXiv search %q: %w", query, err)
	}
	if len(papers) > max {
		papers = papers[:max]
	}
	for i := range papers {
		papers[i].SearchStrategy = strategy
	}
	slog.Info("source: arXiv search", "query", query, "results", len(papers))
	return papers, nil
}

// DownloadPDF saves the paper's PDF as <dir>/<arxiv_id>.pdf and returns the
// path. Existing files are reused.
func (c *ArxivClient) DownloadPDF(ctx context.Context, m Metadata, dir string) (string, error) {
	if m.ArxivID == "" {
		return "", fmt.Errorf("download: missing arxiv_id")
	}
	name := strings.ReplaceAll(m.ArxivID, "/", "_") + ".pdf"
	path := filepath.Join(dir, name)
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return path, nil
	}

	pdfURL := m.PDFURL
	if pdfURL == "" {
		pdfURL = c.SiteURL + "/pdf/" + m.ArxivID
	}
	data, err := c.f.get(ctx, pdfURL, nil)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", m.ArxivID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// FetchHTML returns the arXiv HTML rendering of a paper, used when the PDF
// has no text layer.
func (c *ArxivClient) FetchHTML(ctx context.Context, arxivID string) (string, error) {
	body, err := c.f.get(ctx, c.SiteURL+"/html/"+NormalizeArxivID(arxivID), nil)
	if err != nil {
		return "", fmt.Errorf("fetching HTML for %s: %w", arxivID, err)
	}
	return string(body), nil
}
