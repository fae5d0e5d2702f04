package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/epoch"
	"weft/internal/repo"
)

var newDir bool

func init() {
	var newCmd = &cobra.Command{
		Use:   "new <path>",
		Short: "Create a text file (or directory) in the work tree",
		Long: `Creates the file in the replicated tree and journals the operation, so peers
pick it up on the next sync. Parent directories must already exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft new <path>")
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			fileType := epoch.FileTypeText
			if newDir {
				fileType = epoch.FileTypeDirectory
			}
			envelope, err := r.Tree().CreateFile(args[0], fileType)
			if err != nil {
				return err
			}
			if err := r.Record(envelope); err != nil {
				return err
			}
			fmt.Println("Created", args[0])
			return nil
		},
	}
	newCmd.Flags().BoolVar(&newDir, "dir", false, "Create a directory instead of a text file")
	rootCmd.AddCommand(newCmd)
}
