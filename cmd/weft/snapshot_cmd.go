package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/repo"
	"weft/internal/worktree"
)

var snapshotMsg string

func init() {
	var importCmd = &cobra.Command{
		Use:   "import <dir>",
		Short: "Import a directory as a snapshot",
		Long: `Walks the directory (honoring .weft-ignore), stores every text file as a
deduplicated blob, and records a manifest. Signed when snapshot.sign is true.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft snapshot import <dir>")
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			oid, err := r.ImportSnapshot(args[0], snapshotMsg)
			if err != nil {
				return err
			}
			fmt.Println("Imported snapshot", oid)
			return nil
		},
	}
	importCmd.Flags().StringVarP(&snapshotMsg, "message", "m", "", "Snapshot message")

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			infos, err := r.Store().List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No snapshots stored.")
				return nil
			}
			for _, info := range infos {
				m := info.Manifest
				signed := ""
				if m.Signature != "" {
					signed = " (signed)"
				}
				fmt.Printf("snapshot %s%s\n", info.Oid, signed)
				if m.AuthorName != "" || m.AuthorEmail != "" {
					fmt.Printf("Author: %s <%s>\n", m.AuthorName, m.AuthorEmail)
				}
				fmt.Printf("Date:   %s\n", m.CreatedAt.Local())
				if m.Message != "" {
					fmt.Printf("\n    %s\n", m.Message)
				}
				fmt.Println()
			}
			return nil
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm <oid>",
		Short: "Remove a snapshot manifest",
		Long:  `The manifest goes away immediately; its blobs are swept by the next gc.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft snapshot rm <oid>")
			}
			oid, err := worktree.ParseOid(args[0])
			if err != nil {
				return err
			}
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Store().Remove(oid); err != nil {
				return err
			}
			fmt.Println("Removed snapshot", oid)
			return nil
		},
	}

	var gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Delete blobs no manifest references",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			n, err := r.Store().CollectGarbage()
			if err != nil {
				return err
			}
			fmt.Printf("Collected %d unreferenced blobs\n", n)
			return nil
		},
	}

	var snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Manage base snapshots",
	}

	snapshotCmd.AddCommand(importCmd, listCmd, rmCmd, gcCmd)
	rootCmd.AddCommand(snapshotCmd)
}
