package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/repo"
)

func init() {
	var initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a new weft repository",
		Long: `Creates a .weft directory with the operation journal, the snapshot store,
a config holding a fresh replica identity, and Ed25519 signing keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if err := repo.Init(path); err != nil {
				return err
			}
			fmt.Println("Initialized weft repository at", path)
			return nil
		},
	}
	rootCmd.AddCommand(initCmd)
}
