package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
)

// documentExts are the file types ingest picks up from directories and
// watched trees.
var documentExts = []string{"pdf", "html", "htm", "txt", "md"}

func isDocument(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range documentExts {
		if ext == e {
			return true
		}
	}
	return false
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		catalog string
		force   bool
		noEmbed bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [path|glob]...",
		Short: "Load papers into the store and extract their text",
		Long: `Load papers into the store. Without arguments the metadata catalogue is
ingested: every entry is upserted, the text of its local PDF is extracted
and the abstracts are embedded.

With arguments, each argument is a file, a directory or a glob pattern
(** matches any depth). Files named after an arXiv ID, such as
2308.04079.pdf, keep that ID; other files get a local: ID.

With --watch, the given directories are watched after the initial pass and
new or rewritten documents are ingested as they settle.

Examples:
  papergraph ingest
  papergraph ingest --catalog data/papers_metadata.json --force
  papergraph ingest 'papers/**/*.pdf'
  papergraph ingest --watch data/pdfs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []papergraph.IngestOption
			if force {
				opts = append(opts, papergraph.WithForceReparse())
			}
			if noEmbed {
				opts = append(opts, papergraph.WithoutEmbedding())
			}
			if watch && len(args) == 0 {
				return fmt.Errorf("--watch needs at least one directory")
			}

			return c.withEngine(cmd, func(ctx context.Context, eng papergraph.Engine) error {
				if len(args) == 0 {
					if catalog == "" {
						catalog = c.cfg.Sources.CatalogPath
					}
					var sum *papergraph.IngestSummary
					err := c.withPipelineLock(func() error {
						var err error
						sum, err = eng.IngestCatalog(ctx, catalog, opts...)
						return err
					})
					if sum != nil {
						if perr := c.reportIngest(sum); perr != nil {
							return perr
						}
					}
					return err
				}

				files, err := expandPaths(args)
				if err != nil {
					return err
				}
				sum := &papergraph.IngestSummary{Total: len(files)}
				err = c.withPipelineLock(func() error {
					for _, f := range files {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						ingestOne(ctx, eng, f, sum, opts)
					}
					return nil
				})
				if err != nil {
					return err
				}
				if err := c.reportIngest(sum); err != nil {
					return err
				}
				if watch {
					return c.watchAndIngest(ctx, eng, args, opts)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalogue path (default sources.catalog_path)")
	cmd.Flags().BoolVar(&force, "force", false, "re-extract text of papers that already have some")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "skip abstract embeddings")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching the given directories for new documents")
	return cmd
}

func ingestOne(ctx context.Context, eng papergraph.Engine, path string, sum *papergraph.IngestSummary, opts []papergraph.IngestOption) {
	id, err := eng.IngestFile(ctx, path, opts...)
	if id != 0 {
		sum.Ingested++
	}
	if err != nil {
		sum.Failed++
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", path, err))
		slog.Warn("ingest: file failed", "path", path, "error", err)
		return
	}
	sum.TextExtracted++
}

// expandPaths resolves files, directories and glob patterns into a sorted,
// de-duplicated list of document paths.
func expandPaths(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && !info.IsDir():
			add(arg)
			continue
		case err == nil && info.IsDir():
			arg = filepath.Join(arg, "**", "*.{"+strings.Join(documentExts, ",")+"}")
		}

		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			slog.Warn("ingest: pattern matched nothing", "pattern", arg)
		}
		for _, m := range matches {
			if isDocument(m) {
				add(m)
			}
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no documents found in %s", strings.Join(args, ", "))
	}
	return out, nil
}

// watchAndIngest ingests documents that appear under the directories in
// args until the command is interrupted.
func (c *cli) watchAndIngest(ctx context.Context, eng papergraph.Engine, args []string, opts []papergraph.IngestOption) error {
	w, err := newFileWatcher(defaultDebounce, isDocument)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	dirs := 0
	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && info.IsDir() {
			if err := w.AddTree(arg); err != nil {
				return fmt.Errorf("watching %s: %w", arg, err)
			}
			dirs++
		}
	}
	if dirs == 0 {
		return fmt.Errorf("--watch needs at least one directory")
	}

	slog.Info("ingest: watching for new documents", "dirs", dirs, "debounce", defaultDebounce)
	return w.Run(ctx, func(ctx context.Context, path string) {
		err := c.withPipelineLock(func() error {
			_, err := eng.IngestFile(ctx, path, append(opts, papergraph.WithForceReparse())...)
			return err
		})
		if err != nil {
			slog.Warn("ingest: watched file failed", "path", path, "error", err)
			return
		}
		slog.Info("ingest: watched file ingested", "path", path)
		if !c.jsonOutput() {
			c.printf("%s %s\n", passStyle.Render("✓"), path)
		}
	})
}

func (c *cli) reportIngest(sum *papergraph.IngestSummary) error {
	if c.jsonOutput() {
		return c.printJSON(sum)
	}
	c.printf("%s ingested %d of %d papers (%d with new text, %d embedded, %d failed)\n",
		passStyle.Render("✓"), sum.Ingested, sum.Total, sum.TextExtracted, sum.Embedded, sum.Failed)
	for _, e := range sum.Errors {
		c.println("  " + warnStyle.Render(e))
	}
	return nil
}
