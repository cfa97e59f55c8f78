package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph/source"
)

// fetchFlags are shared by every fetch subcommand.
type fetchFlags struct {
	catalog      string
	pdfDir       string
	download     bool
	htmlFallback bool
}

// fetchResult reports a fetch run.
type fetchResult struct {
	Fetched    int                   `json:"fetched"`
	Added      int                   `json:"added"`
	Downloaded int                   `json:"downloaded"`
	Total      int                   `json:"total"`
	Catalog    string                `json:"catalog"`
	Citations  *source.CitationStats `json:"citations,omitempty"`
}

func (c *cli) fetchCmd() *cobra.Command {
	ff := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Collect paper metadata and PDFs into the local catalogue",
		Long: `Collect paper metadata from arXiv and Semantic Scholar and merge it into
the metadata catalogue (papers_metadata.json). Papers already in the
catalogue are kept as they are. A papers_summary.csv overview is written
next to the catalogue after every fetch.

Examples:
  papergraph fetch seminal 2308.04079
  papergraph fetch search 'ti:"Gaussian Splatting" OR abs:"Gaussian Splatting"' --max 8
  papergraph fetch citations 2308.04079 --max 70 --download`,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&ff.catalog, "catalog", "", "catalogue path (default sources.catalog_path)")
	pf.StringVar(&ff.pdfDir, "pdf-dir", "", "PDF directory (default sources.pdf_dir)")
	pf.BoolVar(&ff.download, "download", false, "download PDFs of the fetched papers")
	pf.BoolVar(&ff.htmlFallback, "html-fallback", false, "save the arXiv HTML rendering when a PDF download fails")

	cmd.AddCommand(c.fetchSeminalCmd(ff), c.fetchSearchCmd(ff), c.fetchCitationsCmd(ff))
	return cmd
}

func (c *cli) fetchSeminalCmd(ff *fetchFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seminal <arxiv-id>...",
		Short: "Add papers by arXiv ID and mark them seminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			papers, err := source.NewArxivClient(c.cfg.Sources.ArxivDelay).Lookup(ctx, args...)
			if err != nil {
				return err
			}
			if len(papers) == 0 {
				return fmt.Errorf("arXiv returned no papers for %s", strings.Join(args, ", "))
			}
			for i := range papers {
				papers[i].IsSeminal = true
			}
			res, err := c.mergeFetched(ctx, ff, papers)
			if err != nil {
				return err
			}
			return c.reportFetch(res)
		},
	}
}

func (c *cli) fetchSearchCmd(ff *fetchFlags) *cobra.Command {
	var (
		max      int
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Add the top results of an arXiv query",
		Long: `Run an arXiv API query and add the most relevant results. The query
uses arXiv syntax: ti: for titles, abs: for abstracts, AND/OR to combine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if strategy == "" {
				strategy = args[0]
			}
			papers, err := source.NewArxivClient(c.cfg.Sources.ArxivDelay).Search(ctx, args[0], max, strategy)
			if err != nil {
				return err
			}
			res, err := c.mergeFetched(ctx, ff, papers)
			if err != nil {
				return err
			}
			return c.reportFetch(res)
		},
	}
	cmd.Flags().IntVar(&max, "max", 10, "maximum papers to add")
	cmd.Flags().StringVar(&strategy, "strategy", "", "label recorded as search_strategy (default the query)")
	return cmd
}

func (c *cli) fetchCitationsCmd(ff *fetchFlags) *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "citations <arxiv-id>",
		Short: "Add arXiv papers that cite a paper, via Semantic Scholar",
		Long: `Look the paper up on Semantic Scholar and add the papers citing it that
have an arXiv ID and are not yet in the catalogue. Set a Semantic Scholar
API key (papergraph auth set-key semantic_scholar) for higher rate limits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if max <= 0 {
				max = c.cfg.Sources.MaxCitingPerSeed
			}
			s2 := source.NewS2Client(c.cfg.Sources.SemanticAPIKey, c.cfg.Sources.SemanticDelay)
			seed, err := s2.LookupArxiv(ctx, args[0])
			if err != nil {
				return err
			}

			existing, err := c.loadCatalog(ff)
			if err != nil {
				return err
			}
			known := make(map[string]bool, len(existing))
			for _, m := range existing {
				known[m.ArxivID] = true
			}
			known[source.NormalizeArxivID(args[0])] = true

			papers, stats, err := s2.Citations(ctx, seed.PaperID, max, known)
			if err != nil {
				return err
			}
			res, err := c.mergeFetched(ctx, ff, papers)
			if err != nil {
				return err
			}
			res.Citations = &stats
			return c.reportFetch(res)
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "maximum citing papers (default sources.max_citing_per_seed)")
	return cmd
}

func (c *cli) catalogPath(ff *fetchFlags) string {
	if ff.catalog != "" {
		return ff.catalog
	}
	return c.cfg.Sources.CatalogPath
}

func (c *cli) loadCatalog(ff *fetchFlags) ([]source.Metadata, error) {
	return source.LoadCatalog(c.catalogPath(ff))
}

// mergeFetched merges papers into the catalogue, downloads PDFs when asked
// and writes the catalogue and its CSV summary.
func (c *cli) mergeFetched(ctx context.Context, ff *fetchFlags, papers []source.Metadata) (*fetchResult, error) {
	existing, err := c.loadCatalog(ff)
	if err != nil {
		return nil, err
	}
	merged, added := source.Merge(existing, papers)
	res := &fetchResult{Fetched: len(papers), Added: added, Total: len(merged), Catalog: c.catalogPath(ff)}

	if ff.download {
		res.Downloaded = c.downloadMissing(ctx, ff, merged)
	}

	if err := source.SaveCatalog(res.Catalog, merged); err != nil {
		return nil, err
	}
	summary := filepath.Join(filepath.Dir(res.Catalog), "papers_summary.csv")
	if err := source.WriteSummaryCSV(summary, merged); err != nil {
		return nil, err
	}
	return res, nil
}

// downloadMissing fetches PDFs for entries without a local file and
// records their paths. With --html-fallback a failed PDF download is
// replaced by the arXiv HTML rendering.
func (c *cli) downloadMissing(ctx context.Context, ff *fetchFlags, papers []source.Metadata) int {
	dir := ff.pdfDir
	if dir == "" {
		dir = c.cfg.Sources.PDFDir
	}
	arxiv := source.NewArxivClient(c.cfg.Sources.ArxivDelay)

	n := 0
	for i := range papers {
		if ctx.Err() != nil {
			break
		}
		m := &papers[i]
		if m.LocalPDFPath != "" {
			if _, err := os.Stat(m.LocalPDFPath); err == nil {
				continue
			}
		}
		path, err := arxiv.DownloadPDF(ctx, *m, dir)
		if err != nil && ff.htmlFallback {
			slog.Warn("fetch: PDF download failed, trying HTML", "arxiv_id", m.ArxivID, "error", err)
			path, err = saveHTML(ctx, arxiv, m.ArxivID, dir)
		}
		if err != nil {
			slog.Warn("fetch: download failed", "arxiv_id", m.ArxivID, "error", err)
			continue
		}
		m.LocalPDFPath = path
		n++
		slog.Info("fetch: downloaded", "arxiv_id", m.ArxivID, "path", path)
	}
	return n
}

func saveHTML(ctx context.Context, arxiv *source.ArxivClient, arxivID, dir string) (string, error) {
	body, err := arxiv.FetchHTML(ctx, arxivID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, strings.ReplaceAll(arxivID, "/", "_")+".html")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func (c *cli) reportFetch(res *fetchResult) error {
	if c.jsonOutput() {
		return c.printJSON(res)
	}
	c.printf("%s fetched %d, added %d new (catalogue now %d papers)\n",
		passStyle.Render("✓"), res.Fetched, res.Added, res.Total)
	if res.Citations != nil {
		c.printf("  citing papers retrieved %d, skipped %d without arXiv ID, %d already known\n",
			res.Citations.Retrieved, res.Citations.SkippedNoArxiv, res.Citations.SkippedKnown)
	}
	if res.Downloaded > 0 {
		c.printf("  downloaded %d files\n", res.Downloaded)
	}
	c.println(mutedStyle.Render("  catalogue: " + res.Catalog))
	return nil
}
