package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version can be set via:
// -ldflags="-X 'github.com/defenseunicorns/uds-vuln-reporter/cmd.Version=$TAG'"
var Version string

// CommitSHA can be set via:
// -ldflags="-X 'github.com/defenseunicorns/uds-vuln-reporter/cmd.CommitSHA=$SHA'"
var CommitSHA string

func init() {
	i, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" {
		Version = i.Main.Version
	}
	if CommitSHA == "" {
		for _, s := range i.Settings {
			if s.Key == "vcs.revision" {
				CommitSHA = s.Value
			}
		}
	}
}

func versionString() string {
	return fmt.Sprintf(`{"version": "%s", "commit": "%s"}`, Version, CommitSHA)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and commit of this build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return err
		},
	}
}
