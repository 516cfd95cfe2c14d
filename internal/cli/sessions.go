package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcontext"
	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/session"
)

type sessionJSON struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

type messageJSON struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Model     *string   `json:"model,omitempty"`
	Text      string    `json:"text,omitempty"`
	Calls     int       `json:"calls,omitempty"`
	Responses int       `json:"responses,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved sessions, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, flags, func(store session.Store) error {
					infos, err := store.List(cmd.Context())
					if err != nil {
						return err
					}
					return printSessions(cmd.OutOrStdout(), flags.jsonOutput(), infos)
				})
			},
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Print the history of a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, flags, func(store session.Store) error {
					st, err := store.Load(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printSession(cmd.OutOrStdout(), flags.jsonOutput(), st)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a saved session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, flags, func(store session.Store) error {
					if err := store.Delete(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens the configured session store for the duration of fn.
func withStore(cmd *cobra.Command, flags *rootFlags, fn func(store session.Store) error) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	store, err := agentcontext.OpenStore(cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer closeIfCloser(store)
	return fn(store)
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

func printSessions(w io.Writer, asJSON bool, infos []session.Info) error {
	if asJSON {
		out := make([]sessionJSON, 0, len(infos))
		for _, info := range infos {
			out = append(out, sessionJSON{
				ID:        info.ID,
				Title:     info.Title.Ptr(),
				CreatedAt: info.CreatedAt,
				UpdatedAt: info.UpdatedAt,
				Messages:  info.Messages,
			})
		}
		return printJSON(w, out)
	}
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "no sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, info.Title.OrElse("-"), info.Messages, info.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printSession(w io.Writer, asJSON bool, st session.State) error {
	if asJSON {
		msgs := make([]messageJSON, 0, len(st.History))
		for _, m := range st.History {
			msgs = append(msgs, messageJSON{
				ID:        m.ID,
				Role:      string(m.Role),
				Model:     m.Model.Ptr(),
				Text:      m.Text(),
				Calls:     len(m.FunctionCalls()),
				Responses: len(m.FunctionResponses()),
				CreatedAt: m.CreatedAt,
			})
		}
		return printJSON(w, struct {
			sessionJSON
			History []messageJSON `json:"history"`
		}{
			sessionJSON: sessionJSON{
				ID:        st.ID,
				Title:     st.Title.Ptr(),
				CreatedAt: st.CreatedAt,
				UpdatedAt: st.UpdatedAt,
				Messages:  len(st.History),
			},
			History: msgs,
		})
	}
	fmt.Fprintf(w, "session %s %s\n", st.ID, st.Title.OrElse(""))
	for _, m := range st.History {
		fmt.Fprintf(w, "[%s] %s\n", m.Role, summarize(m))
	}
	return nil
}

func summarize(m core.Message) string {
	if text := m.Text(); text != "" {
		return text
	}
	if calls := m.FunctionCalls(); len(calls) > 0 {
		return fmt.Sprintf("%d tool call(s)", len(calls))
	}
	if responses := m.FunctionResponses(); len(responses) > 0 {
		return fmt.Sprintf("%d tool result(s)", len(responses))
	}
	return "(attachments)"
}
