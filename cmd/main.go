package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"s3uploadservice/internal/app"
	"s3uploadservice/internal/config"
	"s3uploadservice/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "s3uploadservice",
	Short: "Upload files dropped into local folders to S3 compatible storage",
	Long: `A long-running service that watches local folders, uploads every new file
to its configured bucket and moves or deletes the local copy afterwards.`,
	SilenceUsage: true,
	RunE:         runService,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	defaults := config.Default()

	// Storage flags
	rootCmd.Flags().String("endpoint", "", "S3 endpoint (host[:port] or URL)")
	rootCmd.Flags().String("access-key", "", "S3 access key")
	rootCmd.Flags().String("secret-key", "", "S3 secret key")
	rootCmd.Flags().String("region", "", "S3 region")
	rootCmd.Flags().Bool("secure", defaults.Storage.Secure, "Use HTTPS for the endpoint")
	rootCmd.Flags().Duration("connection-timeout", defaults.Timeouts.Connection, "Connection timeout")
	rootCmd.Flags().Duration("socket-timeout", defaults.Timeouts.Socket, "Socket read timeout")

	// Pool flags
	rootCmd.Flags().Int("core-pool-size", defaults.Pool.CorePoolSize, "Number of workers kept alive")
	rootCmd.Flags().Int("maximum-pool-size", defaults.Pool.MaximumPoolSize, "Maximum number of workers")
	rootCmd.Flags().Int("queue-capacity", defaults.Pool.QueueCapacity, "Capacity of the pending task queue")

	// Pipeline flags
	rootCmd.Flags().Bool("delete-after-upload", defaults.DeleteAfterUpload, "Delete files after upload instead of moving them to the uploaded folder")
	rootCmd.Flags().Duration("pause-interval", defaults.PauseInterval, "Pause between two sweeps of the source folders")
	rootCmd.Flags().String("history", "", "Upload history database file (disabled when empty)")
	rootCmd.Flags().String("metrics-addr", "", "Address serving /metrics and /stats (disabled when empty)")
	rootCmd.Flags().Bool("show-progress", false, "Show progress display when attached to a terminal")
	rootCmd.Flags().String("log-level", defaults.LogLevel, "Log level (debug/info/warn/error)")
	rootCmd.Flags().String("log-format", defaults.LogFormat, "Log format (console/json)")

	rootCmd.AddCommand(historyCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	uploader, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, gracefully stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = uploader.Run(ctx)

	if closeErr := uploader.Close(); closeErr != nil {
		log.Error("Error closing uploader", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
