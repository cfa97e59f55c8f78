package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/brunobiangulo/papergraph"
	"github.com/brunobiangulo/papergraph/llm"
)

// keyringService is the OS keyring service that holds API keys, one
// entry per provider name.
const keyringService = "papergraph"

// semanticScholarKey is the keyring user for the Semantic Scholar API key.
const semanticScholarKey = "semantic_scholar"

// providerEnv maps provider names to their conventional key variables.
var providerEnv = map[string]string{
	"openai":           "OPENAI_API_KEY",
	"groq":             "GROQ_API_KEY",
	"anthropic":        "ANTHROPIC_API_KEY",
	"openrouter":       "OPENROUTER_API_KEY",
	"gemini":           "GEMINI_API_KEY",
	"xai":              "XAI_API_KEY",
	semanticScholarKey: "SEMANTIC_SCHOLAR_API_KEY",
}

// resolveAPIKeys fills missing API keys from the environment, then from
// the OS keyring. Local providers need none.
func resolveAPIKeys(cfg *papergraph.Config) {
	for _, lc := range []*llm.Config{&cfg.Chat, &cfg.Embedding} {
		if lc.APIKey != "" || !needsKey(lc.Provider) {
			continue
		}
		if v := os.Getenv(papergraph.EnvPrefix + "_LLM_API_KEY"); v != "" {
			lc.APIKey = v
			continue
		}
		lc.APIKey = lookupKey(lc.Provider)
	}
	if cfg.Sources.SemanticAPIKey == "" {
		cfg.Sources.SemanticAPIKey = lookupKey(semanticScholarKey)
	}
}

func needsKey(provider string) bool {
	switch provider {
	case "", "ollama", "lmstudio":
		return false
	}
	return true
}

// lookupKey returns the key for name from its environment variable or the
// keyring, or "" when neither has one.
func lookupKey(name string) string {
	if env, ok := providerEnv[name]; ok {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	key, err := keyring.Get(keyringService, name)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("auth: keyring lookup failed", "name", name, "error", err)
		}
		return ""
	}
	return key
}

func (c *cli) authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API keys stored in the OS keyring",
		Long: `Manage the API keys papergraph uses for hosted model providers and
Semantic Scholar. Keys are kept in the operating system keyring under the
service "papergraph", one entry per provider.

Lookup order for a provider key: the config file, PAPERGRAPH_LLM_API_KEY,
the provider's own variable (for example GROQ_API_KEY), then the keyring.

Examples:
  papergraph auth set-key groq
  echo "$KEY" | papergraph auth set-key semantic_scholar
  papergraph auth status
  papergraph auth delete-key openai`,
	}
	cmd.AddCommand(c.authSetKeyCmd(), c.authDeleteKeyCmd(), c.authStatusCmd())
	return cmd
}

func (c *cli) authSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <provider>",
		Short: "Store an API key in the keyring",
		Long: `Store an API key for a provider in the OS keyring. The key is read
without echo from the terminal, or from the first line of stdin when it is
not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			key, err := c.readSecret(fmt.Sprintf("API key for %s: ", provider))
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("API key is empty")
			}
			if err := keyring.Set(keyringService, provider, key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			if c.jsonOutput() {
				return c.printJSON(map[string]string{"provider": provider, "status": "stored"})
			}
			c.printf("%s key stored for %s\n", passStyle.Render("✓"), provider)
			return nil
		},
	}
}

// readSecret prompts on the terminal without echo, or reads one line from
// the command input when it is not a terminal.
func (c *cli) readSecret(prompt string) (string, error) {
	if f, ok := c.in.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) authDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <provider>",
		Short: "Remove an API key from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			if err := keyring.Delete(keyringService, provider); err != nil {
				if errors.Is(err, keyring.ErrNotFound) {
					return fmt.Errorf("no key stored for %s", provider)
				}
				return fmt.Errorf("deleting key: %w", err)
			}
			if c.jsonOutput() {
				return c.printJSON(map[string]string{"provider": provider, "status": "deleted"})
			}
			c.printf("key for %s deleted\n", provider)
			return nil
		},
	}
}

// keyStatus reports where a provider key was found.
type keyStatus struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func (c *cli) authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which API keys are available and where they come from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(providerEnv))
			for name := range providerEnv {
				names = append(names, name)
			}
			sort.Strings(names)

			statuses := make([]keyStatus, 0, len(names))
			for _, name := range names {
				statuses = append(statuses, keyStatus{Name: name, Source: keySource(name)})
			}
			if c.jsonOutput() {
				return c.printJSON(statuses)
			}
			t := newTable("PROVIDER", "KEY SOURCE")
			for _, s := range statuses {
				src := s.Source
				if src == "" {
					src = mutedStyle.Render("none")
				}
				t.Row(s.Name, src)
			}
			c.println(t.Render())
			return nil
		},
	}
}

func keySource(name string) string {
	if env := providerEnv[name]; env != "" && os.Getenv(env) != "" {
		return "env " + env
	}
	if _, err := keyring.Get(keyringService, name); err == nil {
		return "keyring"
	}
	return ""
}
