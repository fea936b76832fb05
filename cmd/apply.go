package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/apply"
	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/confirm"
	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/lock"
	"grimm.is/tether/internal/probe"
	"grimm.is/tether/internal/service"
	"grimm.is/tether/internal/snapshot"
	"grimm.is/tether/internal/watchdog"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	Timeout int
	IPv4    bool
	IPv6    bool
	Backend string
	Write   string
	Probes  []string
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(root *RootOptions) *cobra.Command {
	return newApplyCommand(root, &ApplyOptions{})
}

func newApplyCommand(root *RootOptions, opts *ApplyOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [flags] [ruleset]",
		Short: "Apply a ruleset and roll back unless confirmed",
		Long: `Apply a new firewall ruleset safely.

The current ruleset is saved first and a detached watchdog is armed to
restore it. After the new ruleset is loaded you must confirm within the
timeout, from a NEW connection if you are remote. Without a confirmation
the watchdog restores the previous ruleset.

Without a ruleset argument the backend's default file is used
(/etc/iptables/rules.v4, /etc/iptables/rules.v6 or /etc/nftables.conf).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, root, opts, args)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Timeout, "timeout", "t", int(config.DefaultTimeout/time.Second), "seconds to wait for confirmation")
	f.BoolVarP(&opts.IPv4, "ipv4", "4", false, "apply an IPv4 ruleset (iptables)")
	f.BoolVarP(&opts.IPv6, "ipv6", "6", false, "apply an IPv6 ruleset (ip6tables)")
	f.StringVar(&opts.Backend, "backend", "", "firewall backend (iptables|nft)")
	f.StringVarP(&opts.Write, "write", "w", "", "write the applied ruleset to this file after confirmation")
	f.StringArrayVar(&opts.Probes, "probe", nil, "host that must stay reachable after the change (repeatable)")

	return cmd
}

// request resolves flags over settings into a transaction request.
func (o *ApplyOptions) request(cmd *cobra.Command, s config.Settings, args []string) (apply.Request, error) {
	if cmd.Flags().Changed("timeout") {
		if o.Timeout < 0 {
			return apply.Request{}, argumentError("timeout", fmt.Errorf("must not be negative (got %d)", o.Timeout))
		}
		s.Timeout = time.Duration(o.Timeout) * time.Second
	}
	if o.Backend != "" {
		s.Backend = o.Backend
	}

	switch {
	case o.IPv4 && o.IPv6:
		return apply.Request{}, argumentError("family", fmt.Errorf("-4 and -6 are mutually exclusive"))
	case o.IPv4:
		s.Family = string(firewall.FamilyIPv4)
	case o.IPv6:
		s.Family = string(firewall.FamilyIPv6)
	case s.Backend == firewall.BackendNFT || s.Backend == "nftables":
		s.Family = string(firewall.FamilyInet)
	}
	family, err := firewall.ParseFamily(s.Family)
	if err != nil {
		return apply.Request{}, argumentError("family", err)
	}

	req := apply.Request{
		Ruleset:      s.Ruleset,
		Directive:    firewall.Directive{Backend: s.Backend, Family: family},
		Timeout:      s.Timeout,
		WriteTo:      o.Write,
		ProbeTargets: s.ProbeTargets,
	}
	if len(args) == 1 {
		req.Ruleset = args[0]
	}
	if len(o.Probes) > 0 {
		req.ProbeTargets = o.Probes
	}
	return req, nil
}

func runApply(cmd *cobra.Command, root *RootOptions, opts *ApplyOptions, args []string) error {
	s, err := root.settings()
	if err != nil {
		return err
	}
	req, err := opts.request(cmd, s, args)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(s, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	// Ctrl-C at the prompt declines; everything after it runs to completion.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	journal, closeJournal := openJournal(ctx, s, logger)
	defer closeJournal()

	template := watchdog.Params{
		MetricsTextfile: s.MetricsTextfile,
		LogLevel:        watchdogLevel(s),
		LogJSON:         s.LogJSON,
	}
	if s.JournalEnabled {
		template.JournalPath = s.Journal()
		template.JournalRetention = s.JournalRetention
	}

	runner := firewall.DefaultCommandRunner
	ctl := apply.New(apply.Options{
		Runner:           runner,
		Locks:            lock.NewManager(s.LockDir(), nil),
		Snapshots:        snapshot.NewCapturer(s.SnapshotDir(), nil, logger),
		Spawner:          &watchdog.ProcessSpawner{LogPath: s.WatchdogLog()},
		WatchdogTemplate: template,
		Prompter: &confirm.Prompter{
			In:      cmd.InOrStdin(),
			Out:     cmd.OutOrStdout(),
			Printer: Printer,
		},
		Services:          service.NewSystemd(runner, logger),
		DependentServices: s.DependentServices,
		Prober:            probe.NewICMP(s.ProbeTimeout, logger),
		Journal:           journal,
		Metrics:           newReporter(s),
		Logger:            logger,
		Out:               cmd.OutOrStdout(),
		Printer:           Printer,
	})

	res, err := ctl.Run(ctx, req)
	root.result = res
	reportHolder(cmd.ErrOrStderr(), err)
	return err
}
