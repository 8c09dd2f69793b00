package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/engine"
	"github.com/gantryci/gantry/internal/push"
	"github.com/gantryci/gantry/internal/render"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compile the goal set for a push without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan()
	},
}

func registerPlanCommand(root *cobra.Command) {
	root.AddCommand(planCmd)
	addPushFlags(planCmd)
}

func loadConfigAndPush() (*config.Config, push.Context, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, push.Context{}, err
	}
	ctx := push.Context{
		Repo:          push.RepoID{Owner: repoOwner, Name: repoName},
		Branch:        branch,
		Revision:      revision,
		DefaultBranch: defaultBranch,
		Changed:       changedFiles,
		Files:         push.NewDirSource(projectDir),
	}
	if err := ctx.Validate(); err != nil {
		return nil, push.Context{}, err
	}
	return cfg, ctx, nil
}

func runPlan() error {
	cfg, pushCtx, err := loadConfigAndPush()
	if err != nil {
		return err
	}
	reg, err := engine.LoadRegistry(cfg)
	if err != nil {
		return err
	}
	// A standalone plan sees no prior goal observations.
	gs, err := compiler.Compile(reg, pushCtx, nil)
	if err != nil {
		return err
	}
	fmt.Print(render.Plan(gs))
	if gs.Len() == 0 {
		fmt.Println("no contributions selected for this push")
	}
	return nil
}
