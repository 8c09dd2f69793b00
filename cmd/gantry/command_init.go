package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .gantry directory and a default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitGantryDir(projectDir); err != nil {
			return err
		}
		fmt.Printf("initialized %s/.gantry\n", projectDir)
		return nil
	},
}

func registerInitCommand(root *cobra.Command) {
	root.AddCommand(initCmd)
}
