package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jdziat/recipe-enricher/pkg/app"
)

var (
	serveWorker bool
	serveHTTP   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker and the HTTP API",
	Long: `Run the queue worker and the HTTP API until interrupted.

Use --http=false for a worker-only process or --worker=false for an API-only
process; any number of each can share one database. SIGHUP reloads the config
files, updating AI settings, feature toggles and event visibility in place.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "process queued jobs")
	serveCmd.Flags().BoolVar(&serveHTTP, "http", true, "serve the HTTP API and event stream")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	go watchReload(ctx, a)

	a.Logger.Info("enricher starting", "worker", serveWorker, "http", serveHTTP, "queues", a.Config.Worker.Queues)
	return a.Run(ctx, app.RunOptions{Worker: serveWorker, Server: serveHTTP})
}

// watchReload reloads the config files on SIGHUP. Queue tunables and
// connections are fixed at startup; only the live settings change.
func watchReload(ctx context.Context, a *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.Settings.Reload(cfgFiles...); err != nil {
				a.Logger.Error("config reload failed; keeping previous settings", "error", err)
				continue
			}
			a.Logger.Info("config reloaded", "files", cfgFiles)
		}
	}
}
