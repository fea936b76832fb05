package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/firewall"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [config-file]",
		Short: "Validate the configuration and show the resolved settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				root.ConfigPath = args[0]
			}
			s, err := root.settings()
			if err != nil {
				return err
			}

			family, err := firewall.ParseFamily(s.Family)
			if err != nil {
				return argumentError("family", err)
			}
			d := firewall.Directive{Backend: s.Backend, Family: family}
			b, err := firewall.New(d, firewall.Options{})
			if err != nil {
				return argumentError("backend", err)
			}
			ruleset := s.Ruleset
			if ruleset == "" {
				ruleset = b.DefaultRuleset()
			}

			out := cmd.OutOrStdout()
			if ok, err := writeStructured(out, root.Output, s); ok {
				return err
			}

			Printer.Fprintf(out, "Configuration valid!\n")
			w := newTable(out)
			Printer.Fprintf(w, "Target:\t%s\n", b.Target())
			Printer.Fprintf(w, "Ruleset:\t%s\n", ruleset)
			Printer.Fprintf(w, "Timeout:\t%s\n", s.Timeout)
			Printer.Fprintf(w, "Lock dir:\t%s\n", s.LockDir())
			Printer.Fprintf(w, "Snapshot dir:\t%s\n", s.SnapshotDir())
			Printer.Fprintf(w, "Watchdog log:\t%s\n", s.WatchdogLog())
			Printer.Fprintf(w, "Dependent services:\t%s\n", orDash(strings.Join(s.DependentServices, ", ")))
			Printer.Fprintf(w, "Probe targets:\t%s\n", orDash(strings.Join(s.ProbeTargets, ", ")))
			if s.JournalEnabled {
				Printer.Fprintf(w, "Journal:\t%s (%d days)\n", s.Journal(), s.JournalRetention)
			} else {
				Printer.Fprintf(w, "Journal:\tdisabled\n")
			}
			Printer.Fprintf(w, "Metrics textfile:\t%s\n", orDash(s.MetricsTextfile))
			Printer.Fprintf(w, "Log level:\t%s\n", s.LogLevel)
			if err := w.Flush(); err != nil {
				return err
			}

			if missing := firewall.MissingCommands(firewall.DefaultCommandRunner, b.Commands()...); len(missing) > 0 {
				Printer.Fprintf(out, "Warning: not found in PATH: %s\n", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}
