package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brunobiangulo/papergraph"
)

// cli carries global flag values and shared state for every command.
type cli struct {
	cfgPath   string
	logLevel  string
	logFormat string
	logFile   string
	output    string

	cfg papergraph.Config
	out io.Writer
	in  io.Reader

	openEngine func(ctx context.Context, cfg papergraph.Config) (papergraph.Engine, error)
	logCloser  io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{
		out: os.Stdout,
		in:  os.Stdin,
		openEngine: func(ctx context.Context, cfg papergraph.Config) (papergraph.Engine, error) {
			return papergraph.New(ctx, cfg)
		},
	}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "papergraph",
		Short: "Build and validate a knowledge graph of research papers",
		Long: `papergraph collects research papers from arXiv and Semantic Scholar,
extracts their key concepts with a language model, links related papers
with typed relationships and checks the resulting graph for consistency.

TYPICAL WORKFLOW:
  papergraph init                          Write a starter papergraph.yaml
  papergraph fetch seminal 2308.04079      Add the seminal paper to the catalogue
  papergraph fetch citations 2308.04079    Add papers citing it
  papergraph ingest                        Load the catalogue and extract PDF text
  papergraph extract                       Extract concepts from new papers
  papergraph relate                        Classify paper pairs that share concepts
  papergraph validate --export report.xlsx Check the graph and export the findings

Every command accepts --output json for machine-readable output.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.preRun,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.logCloser != nil {
				return c.logCloser.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "config file (default ./papergraph.yaml or ~/.papergraph/config.yaml)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&c.logFile, "log-file", "", "write logs to this file with rotation instead of stderr")
	pf.StringVarP(&c.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		c.initCmd(),
		c.authCmd(),
		c.fetchCmd(),
		c.ingestCmd(),
		c.extractCmd(),
		c.relateCmd(),
		c.priorCmd(),
		c.validateCmd(),
		c.checkCmd(),
		c.statsCmd(),
		c.papersCmd(),
		c.paperCmd(),
		c.searchCmd(),
		c.similarCmd(),
		c.lineageCmd(),
		c.clustersCmd(),
		c.publishCmd(),
	)
	return root
}

func (c *cli) preRun(cmd *cobra.Command, _ []string) error {
	c.out = cmd.OutOrStdout()
	c.in = cmd.InOrStdin()
	if c.output != "text" && c.output != "json" {
		return fmt.Errorf("--output must be text or json, got %q", c.output)
	}

	cfg, err := papergraph.LoadConfig(c.configPath())
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	if c.logFile != "" {
		cfg.Logging.File = c.logFile
	}

	logger, closer, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	c.logCloser = closer

	resolveAPIKeys(&cfg)
	c.cfg = cfg
	return nil
}

// configPath returns the explicit --config path, PAPERGRAPH_CONFIG, or
// the first default location that exists.
func (c *cli) configPath() string {
	if c.cfgPath != "" {
		return c.cfgPath
	}
	if p := os.Getenv(papergraph.EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	candidates := []string{"papergraph.yaml", "papergraph.yml", "papergraph.json"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".papergraph", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// newLogger builds the process logger. A configured file is rotated by
// size; otherwise logs go to stderr.
func newLogger(lc papergraph.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q", lc.Level)
		}
	}

	w := stderr
	var closer io.Closer
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	switch lc.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), closer, nil
	}
	return nil, nil, fmt.Errorf("invalid log format %q", lc.Format)
}

// withEngine opens the engine for the duration of fn.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng papergraph.Engine) error) error {
	ctx := cmd.Context()
	eng, err := c.openEngine(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("papergraph: closing engine", "error", err)
		}
	}()
	return fn(ctx, eng)
}
