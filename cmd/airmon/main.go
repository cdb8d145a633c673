package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/airmonio/airmon/internal/exporter"
	"github.com/airmonio/airmon/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgFile, logLevel string

	cmd := &cobra.Command{
		Use:   "airmon",
		Short: "Airbyte metrics exporter",
		Long: `airmon polls the Airbyte management API for connections,
job runs, sources and destinations, and republishes that state as
Prometheus metrics. Credentials come from AIRBYTE_CLIENT_ID /
AIRBYTE_CLIENT_SECRET.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run(cfgFile, logLevel)
		},
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (optional, environment overrides apply)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.FullWithPlatform())
		},
	})

	return cmd
}

func run(cfgFile, logLevel string) error {
	cfg, err := exporter.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file and environment.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	if cfgFile == "" {
		log.Info("No config file given, using environment and defaults")
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	e, err := exporter.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating exporter: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting airmon")

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("starting exporter: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down airmon")

	if err := e.Stop(); err != nil {
		return fmt.Errorf("stopping exporter: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

func newLogger(level string) (*logrus.Logger, error) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(parsed)

	return log, nil
}
