package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/repo"
)

var cfgGlobal bool

func init() {
	var setCmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config key (repo-level by default, or --global)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: weft config set <key> <value>")
			}
			key, value := args[0], args[1]

			if cfgGlobal {
				return config.SetGlobal(key, value)
			}
			root, err := repo.Find(".")
			if err != nil {
				// outside a repository only global makes sense
				return config.SetGlobal(key, value)
			}
			return config.SetRepo(root, key, value)
		},
	}
	setCmd.Flags().BoolVar(&cfgGlobal, "global", false, "Set global config instead of repo-level")

	var getCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Get a config value (repo-level overrides global)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: weft config get <key>")
			}
			root, err := repo.Find(".")
			if err != nil {
				root = ""
			}
			value, err := config.Get(root, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}

	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage weft configuration",
	}

	configCmd.AddCommand(setCmd, getCmd)
	rootCmd.AddCommand(configCmd)
}
