package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if a.jsonOutput {
				return writeJSON(a.stdout, map[string]string{
					"version": Version,
					"commit":  Commit,
					"go":      runtime.Version(),
				})
			}
			fmt.Fprintf(a.stdout, "ssh-sentinel %s (%s, %s)\n", Version, Commit, runtime.Version())
			return nil
		},
	}
}
