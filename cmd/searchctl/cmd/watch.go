package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep filesystem participants indexed until interrupted",
		Long: `Watch every filesystem participant configured with watch: true and
re-index changed files. Dirty indexes are saved on the configured interval
and on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openLocal(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "watching; press Ctrl-C to stop")
			runErr := a.RunWatchers(ctx)
			if err := a.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}
