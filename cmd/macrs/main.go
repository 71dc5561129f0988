// Package main implements the macrs CLI: an HTTP server, one-shot turns, an
// interactive chat loop, product search and session maintenance.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/krunaln/macrs-ecom-recommender/internal/config"
)

var (
	configFile string
	envFile    string
	cfg        *config.Config
	version    = "dev"
)

// flagKeys maps string flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"store-dsn":    "store.dsn",
	"state-dir":    "store.state_dir",
	"database-url": "database.url",
	"catalog":      "database.catalog_path",
	"addr":         "api.addr",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "macrs",
	Short: "Multi-agent conversational recommender",
	Long: `macrs runs a multi-agent conversational recommender for e-commerce.

Each user turn is answered by one of three responders (ask, recommend,
chit-chat), chosen by a planner. Between turns a reflection step learns the
user's preferences and records corrective notes after rejected
recommendations.

Configuration is read from macrs.yaml, .env, MACRS_* environment variables and
the flags below, in increasing order of precedence.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML config file (default macrs.yaml when present)")
	pf.StringVar(&envFile, "env-file", "", "dotenv file (default .env)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("store-dsn", "", `conversation store: "memory", a SQLite path, postgres:// or redis:// URL`)
	pf.String("state-dir", "", "directory for the default SQLite store and its lock file")
	pf.String("database-url", "", "PostgreSQL product catalog URL")
	pf.String("catalog", "", "JSON product catalog used when no database URL is set")
	pf.Bool("no-llm", false, "use deterministic rules instead of a language model")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(config.LoadOptions{
		File:      configFile,
		EnvFile:   envFile,
		Overrides: flagOverrides(cmd),
	})
	if err != nil {
		return err
	}
	level, err := loaded.Log.SlogLevel()
	if err != nil {
		return err
	}
	initializeLogger(cmd.ErrOrStderr(), level)
	cfg = loaded
	return nil
}

// flagOverrides collects the flags the user set explicitly.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	flags := cmd.Flags()
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			out[key] = f.Value.String()
		}
	}
	if flags.Changed("no-llm") {
		if noLLM, err := flags.GetBool("no-llm"); err == nil {
			out["llm.enabled"] = !noLLM
		}
	}
	return out
}

// initializeLogger sets up structured logging on w.
func initializeLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
