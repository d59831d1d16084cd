package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot sync-up against every trusted peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			e.Sync.SyncUp(cmd.Context())
			fmt.Println("sync complete")
			return nil
		},
	}
}
