// Package cmd implements the speech assistant terminal client
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/speech-assistant/internal/app"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/observability"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Talk to the speech assistant from the terminal",
	Long: `assistant runs the speech pipeline locally: answers stream to the
terminal and are spoken through the default audio device while they
are still being generated.

Backends and tuning are read from the environment (and .env), the
same way as the server.`,
	SilenceUsage: true,
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr at debug level")
}

// setup loads the configuration and wires the backends
func setup() (*app.App, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	observability.InitLogger(level, true)
	logger := observability.GetLogger()

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, logger, err
	}
	return a, logger, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
