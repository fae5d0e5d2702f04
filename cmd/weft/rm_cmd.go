package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/repo"
)

func init() {
	var rmCmd = &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory from the work tree",
		Long: `The file stays in the epoch with removed status and is still listed by
ls --deleted; resetting onto a new snapshot drops it for good.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft rm <path>")
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			envelope, err := r.Tree().Remove(args[0])
			if err != nil {
				return err
			}
			if err := r.Record(envelope); err != nil {
				return err
			}
			fmt.Println("Removed", args[0])
			return nil
		},
	}
	rootCmd.AddCommand(rmCmd)
}
