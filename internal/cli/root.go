package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"localrag/config"
	"localrag/internal/app"
	"localrag/internal/logging"
	"localrag/internal/usecase"
)

var (
	cfgFile  string
	dataDir  string
	logLevel string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "localrag",
	Short: "Local RAG service - store documents and search them by similarity",
	Long: `localrag keeps documents in a local data directory, splits them into
overlapping chunks, embeds every chunk and answers similarity searches.

Example usage:
  localrag add notes/intro.md --file ./intro.md   # Add or replace a document
  localrag search -q "writing platform"          # Search stored chunks
  localrag ingest ./docs --prefix docs/ --prune   # Index a directory tree
  localrag serve                                  # Start the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			var wd string
			if wd, err = os.Getwd(); err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
			cfg, err = config.LoadFromDir(wd)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if dataDir != "" {
			cfg.DataDirectory = dataDir
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger = logging.New("localrag", logging.ParseLevel(cfg.Logging.Level))

		return nil
	},
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./localrag.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides data_directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, off")
}

func GetConfig() *config.Config {
	return cfg
}

// openApp opens the configured data directory. The caller must Close it.
func openApp(ctx context.Context, progress usecase.ProgressFunc) (*app.App, error) {
	a, err := app.Open(ctx, cfg, app.Options{
		Logger:         logger,
		RepairProgress: progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.DataDirectory, err)
	}
	return a, nil
}
