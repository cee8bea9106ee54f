// Command cardpipe runs the card-rendering pipeline's gateway and worker
// processes. Subcommands let an operator run both in one container (serve,
// the default deployment shape) or split them (serve --workers=false plus a
// dedicated worker process) for independent scaling.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cardpipe/cardpipe/internal/app"
)

func main() {
	root := &cobra.Command{
		Use:   "cardpipe",
		Short: "Card-rendering pipeline gateway and worker",
	}

	var withWorkers bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, optionally with an in-process worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(withWorkers)
		},
	}
	serveCmd.Flags().BoolVar(&withWorkers, "workers", true, "also run the worker pool in this process")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker pool only, without binding an HTTP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkerOnly()
		},
	}

	reapCmd := &cobra.Command{
		Use:   "reap-once",
		Short: "Evict expired job records once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReapOnce()
		},
	}

	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query a running gateway's /health endpoint (container HEALTHCHECK)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck()
		},
	}

	root.AddCommand(serveCmd, workerCmd, reapCmd, healthCmd)
	if err := root.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() (*app.App, context.Context, context.CancelFunc, error) {
	a, err := app.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize app: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return a, ctx, cancel, nil
}

func runServe(withWorkers bool) error {
	a, ctx, cancel, err := newApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	if withWorkers {
		a.StartWorkers(ctx)
	}
	a.StartReaper(ctx, 5*time.Minute)

	a.Log.Info("gateway listening", "port", a.Config.Port, "workers", withWorkers)
	return a.Run(ctx, ":"+a.Config.Port)
}

func runWorkerOnly() error {
	a, ctx, cancel, err := newApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	a.StartWorkers(ctx)
	a.StartReaper(ctx, 5*time.Minute)
	a.Log.Info("worker pool running", "workers", a.Config.Workers)
	<-ctx.Done()
	return nil
}

func runReapOnce() error {
	a, _, cancel, err := newApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	n := a.Registry.Reap(time.Now())
	a.Log.Info("reap-once complete", "evicted", n)
	return nil
}

func runHealthcheck() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	resp, err := http.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}
