package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/apply"
	"grimm.is/tether/internal/i18n"
	"grimm.is/tether/internal/lock"
	"grimm.is/tether/internal/watchdog"
)

// UnlockOptions holds flags for the unlock command.
type UnlockOptions struct {
	Force  bool
	Target string
}

// terminateTimeout bounds the wait for a forcibly stopped watchdog. A
// watchdog in the middle of a restore finishes it first.
const terminateTimeout = 30 * time.Second

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(root *RootOptions) *cobra.Command {
	opts := &UnlockOptions{}

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove the lock left by a crashed transaction",
		Long: `Remove lock markers whose owner and watchdog have both exited.

With --force the recorded watchdog is stopped first and the marker is
removed even if its owner still runs. The snapshot is never deleted, so
the previous ruleset remains available for a manual restore.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			m := lock.NewManager(s.LockDir(), nil)

			targets := []string{opts.Target}
			if opts.Target == "" {
				infos, err := m.List()
				if err != nil {
					return fileAccessError(s.LockDir(), err)
				}
				targets = targets[:0]
				for _, info := range infos {
					targets = append(targets, info.Target)
				}
			}

			out := cmd.OutOrStdout()
			removed := 0
			var errs []error
			for _, target := range targets {
				info, err := unlockTarget(cmd.Context(), m, target, opts.Force)
				if err != nil {
					reportHolder(cmd.ErrOrStderr(), err)
					errs = append(errs, err)
					continue
				}
				if info == nil {
					continue
				}
				removed++
				Printer.Fprintf(out, "Removed lock for %s (tx %s).\n", target, orDash(info.TxID))
				if info.Snapshot != "" {
					Printer.Fprintf(out, "Previous ruleset kept at %s.\n", info.Snapshot)
				}
			}
			if removed == 0 && len(errs) == 0 {
				Printer.Fprintf(out, i18n.MsgNoTransaction)
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "stop the watchdog and remove the lock even if its owner is alive")
	cmd.Flags().StringVar(&opts.Target, "target", "", "only this target (e.g. iptables-ipv4, nft-inet)")

	return cmd
}

func unlockTarget(ctx context.Context, m *lock.Manager, target string, force bool) (*lock.Info, error) {
	if !force {
		info, err := m.Unlock(target)
		if errors.Is(err, lock.ErrHolderAlive) {
			return nil, &apply.Error{
				Kind: apply.KindLockConflict,
				Op:   target,
				Err:  &lock.ConflictError{Target: target, Holder: info},
			}
		}
		if err != nil {
			return nil, fileAccessError(target, err)
		}
		return info, nil
	}

	if info, err := m.Peek(target); err == nil && info != nil && info.WatchdogPID > 0 {
		ctx, cancel := context.WithTimeout(ctx, terminateTimeout)
		defer cancel()
		if err := watchdog.Terminate(ctx, info.WatchdogPID); err != nil {
			return nil, &apply.Error{Kind: apply.KindLockConflict, Op: target, Err: err}
		}
	}
	info, err := m.ForceUnlock(target)
	if err != nil {
		return nil, fileAccessError(target, err)
	}
	return info, nil
}
