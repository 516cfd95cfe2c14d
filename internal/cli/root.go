// Package cli implements the agentctx commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcontext/config"
	"github.com/hupe1980/agentcontext/logging"
)

type rootFlags struct {
	configPath string
	dataDir    string
	format     string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "agentctx",
		Short:         "Context runtime for tool-using AI agents",
		Long:          "Chat with a model that reads and writes files under approval, with resumable sessions and an audit trail.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("AGENTCTX_CONFIG"), "Config file, TOML or YAML (default: $AGENTCTX_CONFIG)")
	root.PersistentFlags().StringVarP(&flags.dataDir, "data-dir", "d", "", "Data directory (default: $AGENTCTX_DATA_DIR or ~/.agentctx)")
	root.PersistentFlags().StringVarP(&flags.format, "format", "f", "text", "Output format: json or text")

	root.AddCommand(
		newChatCmd(flags),
		newSessionsCmd(flags),
		newResourcesCmd(flags),
		newHistoryCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) logging.Logger {
	lc := cfg.LoggerConfig()
	lc.Output = w
	lc.Component = "agentctx"
	return logging.NewLogger(lc)
}

func (f *rootFlags) jsonOutput() bool { return f.format == "json" }

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
