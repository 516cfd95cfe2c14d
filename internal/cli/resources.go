package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcontext/provider"
	"github.com/hupe1980/agentcontext/resource"
	"github.com/hupe1980/agentcontext/session"
)

type snapshotJSON struct {
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Fingerprint *string   `json:"fingerprint,omitempty"`
}

type recordJSON struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Context   snapshotJSON  `json:"context"`
	Current   *snapshotJSON `json:"current,omitempty"`
	TrackedAt time.Time     `json:"tracked_at"`
}

func newResourcesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resources <session-id>",
		Short: "Compare a session's context snapshots with the live resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(store session.Store) error {
				st, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tracker := resource.NewTracker()
				if err := tracker.Restore(st.Resources); err != nil {
					return err
				}
				records := tracker.Overview()

				out := cmd.OutOrStdout()
				if flags.jsonOutput() {
					rows := make([]recordJSON, 0, len(records))
					for _, r := range records {
						rows = append(rows, toRecordJSON(r))
					}
					return printJSON(out, rows)
				}
				if len(records) == 0 {
					_, err := fmt.Fprintln(out, "no tracked resources")
					return err
				}
				_, err = fmt.Fprint(out, provider.RenderOverview(records))
				return err
			})
		},
	}
}

func toRecordJSON(r resource.Record) recordJSON {
	row := recordJSON{
		ID:        r.ID,
		Status:    r.Status.String(),
		Context:   toSnapshotJSON(r.Context),
		TrackedAt: r.TrackedAt,
	}
	if cur, ok := r.Current.Get(); ok {
		s := toSnapshotJSON(cur)
		row.Current = &s
	}
	return row
}

func toSnapshotJSON(s resource.Snapshot) snapshotJSON {
	return snapshotJSON{Size: s.Size, ModTime: s.ModTime, Fingerprint: s.Fingerprint.Ptr()}
}
