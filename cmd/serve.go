package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/killallgit/episode-harvester/api"
	"github.com/killallgit/episode-harvester/api/types"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
)

var (
	serverHost string
	serverPort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ledger status API server",
	Long: `Start a read-only HTTP API over the ledger.

The ledger is opened without taking the writer lock, so the server can run
next to a harvesting run.

Example:
  harvester serve
  harvester serve --port 9090
  harvester serve --host 0.0.0.0 --port 8080`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	host, port := serverHost, serverPort
	if host == "" {
		host = cfg.Server.Host
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	svc, err := ledger.Open(ledgerOptions(cfg, true))
	if err != nil {
		return err
	}
	defer svc.Close()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	server := api.NewServer(address, api.ServerOptions{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	})
	server.SetDependencies(&types.Dependencies{
		Ledger:    svc,
		OutputDir: cfg.Pipeline.OutputDir,
		Build:     buildInfo(),
	})
	if err := server.Initialize(); err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server error: %w", err)
		}
	}()

	slog.Info("Server listening", "address", address, "ledger", cfg.Ledger.Path)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server")
	case runErr = <-serverErr:
		slog.Error("Server stopped", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server gracefully stopped")
	return runErr
}
