package cmd

import (
	"github.com/spf13/cobra"

	"grimm.is/tether/internal/brand"
)

// VersionInfo is the structured form of the version banner.
type VersionInfo struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Name:      brand.Name,
				Version:   brand.Version,
				GitCommit: brand.GitCommit,
				BuildTime: brand.BuildTime,
			}
			if ok, err := writeStructured(cmd.OutOrStdout(), root.Output, info); ok {
				return err
			}
			Printer.Fprintln(cmd.OutOrStdout(), brand.VersionString())
			return nil
		},
	}
}
