package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/scheduler"
	"github.com/gantryci/gantry/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch persisted run snapshots live",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

func registerWatchCommand(root *cobra.Command) {
	root.AddCommand(watchCmd)
}

func runWatch() error {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return err
	}
	store := scheduler.NewRepository(cfg.StateDir())
	model := tui.NewModel(store, nil)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
