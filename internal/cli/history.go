package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcontext/history"
)

type entryJSON struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Model     string    `json:"model"`
	SessionID string    `json:"session_id"`
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the audit trail written for conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			show, _ := cmd.Flags().GetBool("show")

			cfg, err := flags.load()
			if err != nil {
				return err
			}
			entries, err := history.List(cfg.HistoryDir(), sessionID)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput() {
				rows := make([]entryJSON, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, entryJSON(e))
				}
				return printJSON(out, rows)
			}
			if len(entries) == 0 {
				_, err := fmt.Fprintln(out, "no history entries")
				return err
			}
			if show {
				for _, e := range entries {
					data, err := os.ReadFile(e.Path)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "==> %s <==\n%s\n", e.Path, data)
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tROLE\tMODEL\tSESSION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Role, e.Model, e.SessionID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringP("session", "s", "", "Only list entries of this session")
	cmd.Flags().Bool("show", false, "Print the content of every entry")
	return cmd
}
