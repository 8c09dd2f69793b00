package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/bridge"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/engine"
	"github.com/gantryci/gantry/internal/logbook"
)

var (
	serveSubmit   bool
	simulateDelay time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with the HTTP event bridge",
	Long:  "serve starts the goal-test listener and the HTTP bridge. With --submit it also compiles and executes the goal set for the push described by the flags.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func registerServeCommand(root *cobra.Command) {
	root.AddCommand(serveCmd)
	addPushFlags(serveCmd)
	serveCmd.Flags().BoolVar(&serveSubmit, "submit", true, "Compile and execute the described push at startup")
	serveCmd.Flags().DurationVar(&simulateDelay, "simulate-delay", 500*time.Millisecond, "Simulated backend execution time per goal")
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.InitGantryDir(projectDir); err != nil {
		return err
	}
	cfg, pushCtx, err := loadConfigAndPush()
	if err != nil {
		return err
	}
	log, err := logbook.New(cfg.LogPath())
	if err != nil {
		return err
	}
	defer log.Close()

	backend := engine.NewSimulatedBackend(simulateDelay)
	eng, err := engine.New(cfg, backend, engine.WithLogbook(log))
	if err != nil {
		return err
	}

	server := bridge.NewServer(bridge.SettingsFromConfig(cfg),
		bridge.WithSink(eng.Bus()),
		bridge.WithControl(eng),
		bridge.WithLogger(log.Scoped("bridge")),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	fmt.Printf("bridge listening on %s\n", server.Addr())

	if serveSubmit {
		reg, err := eng.LoadRegistry()
		if err != nil {
			return err
		}
		run, err := eng.Submit(ctx, reg, pushCtx)
		if err != nil {
			return err
		}
		fmt.Printf("run %s started (%d instances)\n", run.ID(), run.GoalSet().Len())
	}

	eng.Serve(ctx)
	return nil
}
