// Package cmd implements the tether command line.
package cmd

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/apply"
	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/i18n"
)

// Printer localises operator-facing output.
var Printer = i18n.NewCLIPrinter()

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    int
	Output     string // text | json | yaml

	// result is the last transaction, for the exit code.
	result *apply.Result
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command. The bare command behaves like
// "apply" so that "tether rules.v4" works the way iptables-apply does.
func NewRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           brand.BinaryName,
		Short:         brand.Tagline,
		Long:          brand.Description,
		Version:       brand.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return argumentError("output", fmt.Errorf("invalid format %q: must be one of %v", opts.Output, ValidOutputs))
			}
			return nil
		},
	}
	cmd.SetVersionTemplate(brand.VersionString() + "\n")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return argumentError("flags", err)
	})

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (default "+brand.GetConfigPath()+")")
	cmd.PersistentFlags().CountVarP(&opts.Verbose, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json|yaml)")

	applyCmd := NewApplyCommand(opts)
	cmd.AddCommand(applyCmd)
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	// tether [flags] [ruleset] runs apply.
	cmd.Flags().AddFlagSet(applyCmd.Flags())
	cmd.Args = applyCmd.Args
	cmd.RunE = applyCmd.RunE

	return cmd, opts
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root, opts := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", brand.BinaryName, err)
	}
	return apply.ExitCode(opts.result, err)
}

func argumentError(op string, err error) error {
	return &apply.Error{Kind: apply.KindArgument, Op: op, Err: err}
}

func fileAccessError(op string, err error) error {
	return &apply.Error{Kind: apply.KindFileAccess, Op: op, Err: err}
}
