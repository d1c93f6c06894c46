package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stowage/internal/client"
	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

var (
	cfgFile    string
	logLevel   string
	backend    string
	jsonOutput bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "stowage",
	Short: "Browse and manage files in your personal storage bucket",
	Long: `Stowage signs you in to a storage service and lets you browse, upload,
rename, delete, share and search the files of your own bucket.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initClient,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./stowage.json or ~/.config/stowage/stowage.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine readable JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "",
		"Override storage backend (rest, s3)")
}

func initClient(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if err := checkBackend(cfg.Storage.Backend); err != nil {
		return err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)
	cmd.SetContext(events.WithNewRequestID(events.WithLogger(cmd.Context(), logger)))

	apiClient, err = client.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// checkBackend rejects backends whose objects do not outlive the process.
func checkBackend(name string) error {
	if name == "memory" {
		return fmt.Errorf("%w: the memory backend keeps objects in process and is only usable from tests", models.ErrInvalidConfig)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if apiClient != nil {
		if cerr := apiClient.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to close client")
		}
	}
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("%v", err)
		}
		cancel()
		os.Exit(exitCode(err))
	}
}
