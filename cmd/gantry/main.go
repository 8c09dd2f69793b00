package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectDir    string
	repoOwner     string
	repoName      string
	branch        string
	revision      string
	defaultBranch string
	changedFiles  []string
)

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Delivery-goal engine: push → plan → execution",
	Long:  "gantry compiles declarative delivery-goal contributions into staged execution plans and drives them through approval gates, retries, and cross-scheduler goal chaining",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Repository root to operate on")

	registerInitCommand(rootCmd)
	registerPlanCommand(rootCmd)
	registerServeCommand(rootCmd)
	registerApproveCommand(rootCmd)
	registerCancelCommand(rootCmd)
	registerWatchCommand(rootCmd)
}

func addPushFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&repoOwner, "owner", "", "Repository owner")
	cmd.Flags().StringVar(&repoName, "repo", "", "Repository name")
	cmd.Flags().StringVar(&branch, "branch", "main", "Branch the push landed on")
	cmd.Flags().StringVar(&revision, "revision", "", "Revision (commit SHA) of the push")
	cmd.Flags().StringVar(&defaultBranch, "default-branch", "main", "Repository default branch")
	cmd.Flags().StringSliceVar(&changedFiles, "changed", nil, "Changed file paths (comma separated or repeated)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("revision")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
