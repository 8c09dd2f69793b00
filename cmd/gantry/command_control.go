package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
)

var (
	controlRunID    string
	controlInstance string
	approvalKind    string
	approvalActor   string
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a goal instance waiting on an approval gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl("/approvals", map[string]string{
			"run_id":   controlRunID,
			"instance": controlInstance,
			"kind":     approvalKind,
			"actor":    approvalActor,
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel an active run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl("/cancel", map[string]string{"run_id": controlRunID})
	},
}

func registerApproveCommand(root *cobra.Command) {
	root.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&controlRunID, "run", "", "Run identifier")
	approveCmd.Flags().StringVar(&controlInstance, "instance", "", "Goal instance identifier (contribution/goal)")
	approveCmd.Flags().StringVar(&approvalKind, "kind", "post", "Approval kind: pre or post")
	approveCmd.Flags().StringVar(&approvalActor, "actor", "", "Approving actor recorded on the event")
	_ = approveCmd.MarkFlagRequired("run")
	_ = approveCmd.MarkFlagRequired("instance")
}

func registerCancelCommand(root *cobra.Command) {
	root.AddCommand(cancelCmd)
	cancelCmd.Flags().StringVar(&controlRunID, "run", "", "Run identifier")
	_ = cancelCmd.MarkFlagRequired("run")
}

// postControl sends an operator action to the bridge of a running serve
// process.
func postControl(path string, payload map[string]string) error {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := "http://" + cfg.BridgeAddr() + path
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	fmt.Println("ok")
	return nil
}
