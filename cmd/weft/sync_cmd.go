package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/repo"
)

func init() {
	var syncCmd = &cobra.Command{
		Use:   "sync <peer-path>",
		Short: "Exchange operations and snapshots with a peer repository",
		Long: `Merges the journals both ways and replicates snapshots, then applies the
pulled operations to the local tree. The peer is another checkout on a
reachable filesystem path and must not be open while syncing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft sync <peer-path>")
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			pulled, pushed, err := r.Sync(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Pulled %d and pushed %d operations\n", pulled, pushed)
			return nil
		},
	}
	rootCmd.AddCommand(syncCmd)
}
