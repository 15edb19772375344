package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/portsweep/internal/api"
	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/logging"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the portsweep HTTP API server in the foreground.

Scans are submitted with POST /api/v1/scans and their events are streamed
over WebSocket from /api/v1/scans/{id}/events. Prometheus metrics are served
from /metrics. The server stops on SIGINT or SIGTERM.`,
	Example: `  portsweep serve
  portsweep serve --host 0.0.0.0 --port 9090
  PORTSWEEP_API_PORT=9090 portsweep serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := config.Default()

	serveCmd.Flags().String("host", defaults.API.Host, "Listen address")
	serveCmd.Flags().Int("port", defaults.API.Port, "Listen port")
	serveCmd.Flags().Int("max-scans", defaults.API.MaxScans, "Maximum number of concurrently running scans")

	bindFlags(serveCmd.Flags().Lookup, map[string]string{
		"api.host":      "host",
		"api.port":      "port",
		"api.max_scans": "max-scans",
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveAPI(ctx, appConfig, cmd.OutOrStdout())
}

// serveAPI runs the API server until ctx is cancelled.
func serveAPI(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := logging.Default()

	server, err := api.New(cfg, api.Options{Logger: logger, Version: version})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	_, _ = fmt.Fprintf(out, "API server starting on %s\n", cfg.GetAPIAddress())
	_, _ = fmt.Fprintf(out, "Health check: http://%s/api/v1/health\n", cfg.GetAPIAddress())

	if err := server.Start(ctx); err != nil {
		logger.Error("API server error", "error", err)
		return err
	}

	_, _ = fmt.Fprintln(out, "API server stopped")
	return nil
}
