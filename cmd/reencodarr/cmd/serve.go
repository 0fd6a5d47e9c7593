package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mjc/reencodarr-sub000/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reencodarr server",
	Long: `Start the reencodarr pipelines and HTTP API.

The server runs the analyzer, CRF searcher, and encoder pipelines,
the maintenance scheduler, and the REST API with OpenAPI docs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8649, "Port to listen on")
	serveCmd.Flags().String("database", "reencodarr.db", "Database DSN")
	serveCmd.Flags().String("temp-dir", "", "Temp directory for ab-av1 output")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("storage.temp_dir", serveCmd.Flags().Lookup("temp-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	return application.Run(ctx)
}
