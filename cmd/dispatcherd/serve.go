package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/dispatcher/internal/config"
	"github.com/cuemby/dispatcher/internal/dispatcher"
	"github.com/cuemby/dispatcher/internal/logging"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher, serving the proving and control endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to dispatcher.yaml (defaults to ./dispatcher.yaml, ./config/dispatcher.yaml, /etc/dispatcher/dispatcher.yaml)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.New(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		TraceEnabled: cfg.Logging.TraceEnabled,
	})

	d, err := dispatcher.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to construct dispatcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	return d.Serve(ctx)
}
