package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"podium/internal/backend"
	"podium/internal/conductor"
	"podium/internal/config"
	"podium/internal/dispatch"
	"podium/internal/errors"
	"podium/internal/logging"
	"podium/internal/server"
	"podium/internal/task"
	"podium/internal/workspace"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "podium-server",
		Short: "Multi-model orchestration server",
		Long:  "Podium dispatches prompts across model backends and runs autonomous conductor tasks against durable workspaces.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func printBanner(cfg *config.Config) {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Println("Podium")
	fmt.Printf("  gateway:   %s\n", cfg.GatewayURL)
	fmt.Printf("  model:     %s\n", cfg.DefaultModel)
	fmt.Printf("  workers:   %d (%d models)\n", cfg.WorkerCount, len(cfg.WorkerModels))
	fmt.Printf("  tasks:     %s\n", cfg.DataDir)
	fmt.Printf("  projects:  %s\n", cfg.ProjectsDir)
	fmt.Printf("  listening: :%s\n", cfg.Port)
}

func run(cfg *config.Config) error {
	logger := logging.NewComponentLogger("Main")
	printBanner(cfg)

	store, err := task.NewStore(cfg.DataDir, logging.NewComponentLogger("TaskStore"))
	if err != nil {
		return err
	}
	logs, err := task.NewLogStore(cfg.DataDir, logging.NewComponentLogger("LogStore"))
	if err != nil {
		return err
	}
	tasks := task.NewManager(store, logs, logging.NewComponentLogger("TaskManager"))

	workspaces, err := workspace.NewManager(cfg.ProjectsDir, logging.NewComponentLogger("Workspace"))
	if err != nil {
		return err
	}

	invoker := backend.NewHTTPInvoker(cfg.GatewayURL, cfg.GatewayAPIKey, logging.NewComponentLogger("Backend"))
	retry := errors.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}
	dispatcher := dispatch.NewDispatcher(invoker, retry, logging.NewComponentLogger("Dispatch"))

	planner := conductor.NewModelPlanner(invoker, cfg.DefaultModel, cfg.MaxOutput, cfg.Temperature)
	cond := conductor.New(tasks, workspaces, planner, dispatcher, conductor.Options{
		IterationDelay:      cfg.IterationDelay,
		MaxDecisionFailures: cfg.MaxDecisionFailures,
		MaxParallelWorkers:  cfg.MaxParallel,
		WorkerModels:        cfg.WorkerModels,
	}, logging.NewComponentLogger("Conductor"))

	srv := server.New(cfg, tasks, workspaces, cond, dispatcher, logging.NewComponentLogger("Server"))

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints stay open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
