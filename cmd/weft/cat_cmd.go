package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"weft/internal/repo"
)

func init() {
	var catCmd = &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a text file's replicated content",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft cat <path>")
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
			text := buf.Text()
			fmt.Print(text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
	rootCmd.AddCommand(catCmd)
}
