package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/repo"
)

func init() {
	var mvCmd = &cobra.Command{
		Use:   "mv <old-path> <new-path>",
		Short: "Move or rename a file in the work tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: weft mv <old-path> <new-path>")
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			envelope, err := r.Tree().Rename(args[0], args[1])
			if err != nil {
				return err
			}
			if err := r.Record(envelope); err != nil {
				return err
			}
			fmt.Printf("Renamed %s to %s\n", args[0], args[1])
			return nil
		},
	}
	rootCmd.AddCommand(mvCmd)
}
