package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/repo"
	"weft/internal/worktree"
)

func init() {
	var resetCmd = &cobra.Command{
		Use:   "reset [snapshot-oid]",
		Short: "Move the work tree onto a snapshot base",
		Long: `Starts a new epoch on the given snapshot (or an empty tree when omitted).
Files created in the current epoch carry over; everything else follows the new
base. Peers follow the reset on their next sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var head *worktree.Oid
			if len(args) > 0 {
				oid, err := worktree.ParseOid(args[0])
				if err != nil {
					return err
				}
				head = &oid
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Reset(head); err != nil {
				return err
			}
			if head != nil {
				fmt.Println("Reset onto snapshot", head)
			} else {
				fmt.Println("Reset onto an empty tree")
			}
			return nil
		},
	}
	rootCmd.AddCommand(resetCmd)
}
