package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/i18n"
	"grimm.is/tether/internal/lock"
)

// Transaction states shown by status.
const (
	StatePending = "pending" // waiting for confirmation
	StateOverdue = "overdue" // past the deadline, watchdog still running
	StateStale   = "stale"   // neither owner nor watchdog is alive
)

// LockStatus is one in-flight (or abandoned) transaction.
type LockStatus struct {
	Target        string    `json:"target" yaml:"target"`
	TxID          string    `json:"tx_id" yaml:"tx_id"`
	State         string    `json:"state" yaml:"state"`
	OwnerPID      int       `json:"owner_pid" yaml:"owner_pid"`
	OwnerAlive    bool      `json:"owner_alive" yaml:"owner_alive"`
	WatchdogPID   int       `json:"watchdog_pid,omitempty" yaml:"watchdog_pid,omitempty"`
	WatchdogAlive bool      `json:"watchdog_alive" yaml:"watchdog_alive"`
	Snapshot      string    `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	Ruleset       string    `json:"ruleset,omitempty" yaml:"ruleset,omitempty"`
	Paused        []string  `json:"paused,omitempty" yaml:"paused,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	Deadline      time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Remaining     string    `json:"remaining,omitempty" yaml:"remaining,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show transactions in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			statuses, err := lockStatuses(lock.NewManager(s.LockDir(), nil), lock.ProcessAlive, clock.Now())
			if err != nil {
				return fileAccessError(s.LockDir(), err)
			}

			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, root.Output, statuses); ok {
				return err
			}
			if len(statuses) == 0 {
				Printer.Fprintf(out, i18n.MsgNoTransaction)
				return nil
			}

			w := newTable(out)
			Printer.Fprintln(w, "TARGET\tTX\tSTATE\tOWNER\tWATCHDOG\tREMAINING\tSNAPSHOT")
			for _, st := range statuses {
				Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					st.Target, orDash(st.TxID), st.State,
					pidCell(st.OwnerPID, st.OwnerAlive), pidCell(st.WatchdogPID, st.WatchdogAlive),
					orDash(st.Remaining), orDash(st.Snapshot))
			}
			return w.Flush()
		},
	}
}

func lockStatuses(m *lock.Manager, alive func(int) bool, now time.Time) ([]LockStatus, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	statuses := make([]LockStatus, 0, len(infos))
	for _, info := range infos {
		st := LockStatus{
			Target:      info.Target,
			TxID:        info.TxID,
			OwnerPID:    info.OwnerPID,
			WatchdogPID: info.WatchdogPID,
			Snapshot:    info.Snapshot,
			Ruleset:     info.Ruleset,
			Paused:      info.Paused,
			CreatedAt:   info.CreatedAt,
			Deadline:    info.Deadline,
		}
		st.OwnerAlive = info.OwnerPID > 0 && alive(info.OwnerPID)
		st.WatchdogAlive = info.WatchdogPID > 0 && alive(info.WatchdogPID)

		switch {
		case !st.OwnerAlive && !st.WatchdogAlive:
			st.State = StateStale
		case !info.Deadline.IsZero() && now.After(info.Deadline):
			st.State = StateOverdue
		default:
			st.State = StatePending
		}
		if !info.Deadline.IsZero() && info.Deadline.After(now) {
			st.Remaining = info.Deadline.Sub(now).Round(time.Second).String()
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func pidCell(pid int, alive bool) string {
	if pid == 0 {
		return "-"
	}
	if alive {
		return strconv.Itoa(pid)
	}
	return strconv.Itoa(pid) + " (dead)"
}
