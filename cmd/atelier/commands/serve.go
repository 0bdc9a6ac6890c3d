package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/internal/executor"
	"github.com/atelier-dev/atelier/internal/logging"
	"github.com/atelier-dev/atelier/internal/server"
	"github.com/atelier-dev/atelier/internal/supervisor"
	"github.com/atelier-dev/atelier/pkg/types"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the atelier HTTP server",
	Long: `Start the runtime as a headless server exposing session lifecycle,
tool execution, and event streaming over HTTP.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Default project directory for config loading")
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := workDir(serveDir)
	if err != nil {
		return err
	}

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}
	appConfig, err := config.Load(dir)
	if err != nil {
		return err
	}

	bus := event.Default()
	tree := supervisor.NewTree(supervisor.Options{
		MaxSessions: appConfig.MaxSessions,
		Bus:         bus,
	})
	exec := executor.New(tree, bus)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	srv := server.New(serverConfig, appConfig, tree, exec, bus)

	// Hot-reload settings; affects sessions created after the change.
	if watcher, err := config.NewWatcher(dir, func(cfg *types.Config) { *appConfig = *cfg }); err == nil {
		watcher.Start()
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
