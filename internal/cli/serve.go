package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"localrag/internal/httpapi"
	"localrag/internal/monitoring"
)

var (
	serveAddr    string
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON HTTP API",
	Long: `Start the HTTP API on server.addr (or --addr). Prometheus metrics are
exposed on /metrics. Stops gracefully on interrupt.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "cors-origin", nil, "allowed CORS origins (default localhost:3000 and localhost:1420)")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	monitoring.RegisterMetrics()

	a, err := openApp(cmd.Context(), repairProgress())
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []httpapi.Option{httpapi.WithMetrics()}
	if len(serveOrigins) > 0 {
		opts = append(opts, httpapi.WithAllowedOrigins(serveOrigins...))
	}
	srv := httpapi.NewServer(a.Service, logger.WithName("http"), opts...)

	if err := srv.Run(cmd.Context(), addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
