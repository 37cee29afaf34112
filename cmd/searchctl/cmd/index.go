package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
)

func newIndexCmd(opts *globalOptions) *cobra.Command {
	var drop bool

	cmd := &cobra.Command{
		Use:   "index [participant...]",
		Short: "Re-index participants",
		Long: `Re-index every document of the named participants, or of all
configured participants, and save the indexes. With --drop the existing
shard indexes are deleted first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := openLocal(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := selectSources(a.Sources, args)
			if err != nil {
				return err
			}
			start := time.Now()
			total := 0
			for _, src := range sources {
				if drop {
					if err := src.Drop(a.Registry); err != nil {
						return fmt.Errorf("dropping %s: %w", src.Name(), err)
					}
				}
				n, err := src.Reindex(ctx, a.Registry, "")
				if err != nil {
					return err
				}
				total += n
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents queued\n", src.Name(), n)
			}
			if err := a.Scheduler.WaitIdle(ctx); err != nil {
				return err
			}
			if err := a.Registry.SaveAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents in %s\n", total, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&drop, "drop", false, "delete existing indexes before re-indexing")
	return cmd
}

func selectSources(set *participant.Set, names []string) ([]*participant.Source, error) {
	if len(names) == 0 {
		return set.All(), nil
	}
	out := make([]*participant.Source, 0, len(names))
	for _, n := range names {
		src, err := set.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}
