package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"weft/internal/buffer"
	"weft/internal/repo"
)

func init() {
	var editCmd = &cobra.Command{
		Use:   "edit <path>",
		Short: "Replace a file's text with stdin, journaled as a minimal diff",
		Long: `Reads the new content from stdin and applies only the changed ranges, so
concurrent edits from peers interleave instead of clobbering each other.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft edit <path> < new-content")
			}
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			buf, err := r.Tree().OpenTextFile(args[0])
			if err != nil {
				return err
			}
			changes := buffer.Diff(buf.Text(), string(content))
			for _, change := range changes {
				ranges := []buffer.PointRange{{Start: change.Start, End: change.End}}
				envelope, err := buf.EditPoints(ranges, change.Text())
				if err != nil {
					return err
				}
				if err := r.Record(envelope); err != nil {
					return err
				}
			}
			fmt.Printf("Applied %d changes to %s\n", len(changes), args[0])
			return nil
		},
	}
	rootCmd.AddCommand(editCmd)
}
