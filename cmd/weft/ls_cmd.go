package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"weft/internal/epoch"
	"weft/internal/repo"
	"weft/internal/worktree"
)

var lsDeleted bool

func init() {
	var lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List the work tree with per-file status",
		Long: `Lists every entry depth-first with its status against the base snapshot:
A new, M modified, R renamed, D removed (with --deleted).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			entries := r.Tree().Entries(worktree.EntriesOptions{ShowDeleted: lsDeleted})
			for _, entry := range entries {
				name := entry.Name
				if entry.Type == epoch.FileTypeDirectory {
					name += "/"
				}
				fmt.Printf("%-2s %s%s\n", statusLetter(entry.Status), strings.Repeat("  ", entry.Depth-1), name)
			}
			return nil
		},
	}
	lsCmd.Flags().BoolVar(&lsDeleted, "deleted", false, "Include removed entries")
	rootCmd.AddCommand(lsCmd)
}

func statusLetter(status epoch.FileStatus) string {
	switch status {
	case epoch.StatusNew:
		return "A"
	case epoch.StatusModified:
		return "M"
	case epoch.StatusRenamed:
		return "R"
	case epoch.StatusRenamedAndModified:
		return "RM"
	case epoch.StatusRemoved:
		return "D"
	}
	return ""
}
