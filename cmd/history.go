package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/audit"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	Limit  int
	TxID   string
	Action string
	Since  time.Duration
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(root *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transaction events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			if !s.JournalEnabled {
				return argumentError("history", fmt.Errorf("the transaction journal is disabled"))
			}
			if opts.Limit < 0 {
				return argumentError("limit", fmt.Errorf("must not be negative (got %d)", opts.Limit))
			}

			store, err := audit.Open(s.Journal(), s.JournalRetention, nil)
			if err != nil {
				return fileAccessError(s.Journal(), err)
			}
			defer store.Close()

			filter := audit.Filter{TxID: opts.TxID, Action: opts.Action, Limit: opts.Limit}
			if opts.Since > 0 {
				filter.Since = time.Now().Add(-opts.Since)
			}
			events, err := store.Query(cmd.Context(), filter)
			if err != nil {
				return fileAccessError(s.Journal(), err)
			}
			if events == nil {
				events = []audit.Event{}
			}

			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, root.Output, events); ok {
				return err
			}

			w := newTable(out)
			Printer.Fprintln(w, "TIME\tTX\tTARGET\tACTOR\tACTION\tDETAILS")
			for _, e := range events {
				Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime), shortTx(e.TxID), e.Target,
					e.Actor, e.Action, formatDetails(e.Details))
			}
			return w.Flush()
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of events (0 for all)")
	f.StringVar(&opts.TxID, "tx", "", "only events of this transaction")
	f.StringVar(&opts.Action, "action", "", "only events with this action (e.g. timed-out)")
	f.DurationVar(&opts.Since, "since", 0, "only events newer than this (e.g. 24h)")

	return cmd
}

func shortTx(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func formatDetails(d map[string]any) string {
	if len(d) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, d[k])
	}
	return strings.Join(parts, " ")
}
