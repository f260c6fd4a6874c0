package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRequeueCommand(a *app) *cobra.Command {
	var dead bool
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Return in-flight deliveries to the queue",
		Long: "Moves deliveries left in flight by a crashed consumer back to pending. " +
			"With --dead, dead-lettered deliveries are revived as well.",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeQueue, err := openQueue(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer closeQueue()

			recovered, err := q.Recover()
			if err != nil {
				return err
			}
			revived := 0
			if dead {
				if revived, err = q.Revive(); err != nil {
					return err
				}
			}

			stats, err := q.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recovered %d in-flight, revived %d dead\n", recovered, revived)
			fmt.Fprintf(out, "pending=%d inflight=%d dead=%d\n", stats.Pending, stats.InFlight, stats.Dead)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dead, "dead", false, "also revive dead-lettered deliveries")
	return cmd
}
