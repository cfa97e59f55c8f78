package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/papergraph"
)

func (c *cli) initCmd() *cobra.Command {
	var (
		force    bool
		backend  string
		provider string
		model    string
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Long: `Write the default configuration as YAML, ready to edit. The default
path is ./papergraph.yaml.

Examples:
  papergraph init
  papergraph init --backend postgres ~/.papergraph/config.yaml
  papergraph init --chat-provider groq --chat-model llama-3.3-70b-versatile`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "papergraph.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := papergraph.DefaultConfig()
			if backend != "" {
				cfg.Storage.Backend = backend
			}
			if provider != "" {
				cfg.Chat.Provider = provider
				cfg.Chat.BaseURL = ""
				cfg.Chat.Model = ""
			}
			if model != "" {
				cfg.Chat.Model = model
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := papergraph.SaveConfig(path, cfg); err != nil {
				return err
			}

			if c.jsonOutput() {
				return c.printJSON(map[string]string{"path": path})
			}
			c.printf("%s wrote %s\n", passStyle.Render("✓"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&backend, "backend", "", "storage backend: sqlite or postgres")
	cmd.Flags().StringVar(&provider, "chat-provider", "", "chat model provider, e.g. ollama, groq, openai, anthropic")
	cmd.Flags().StringVar(&model, "chat-model", "", "chat model name")
	return cmd
}
