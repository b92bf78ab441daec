package cmd

import (
	"log/slog"
	"os"

	"github.com/inovacc/starkeep/internal/application"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   application.AppName,
	Short: "Back up starred GitHub repositories to WebDAV storage",
	Long: `Starkeep backs up every repository starred by the configured GitHub
accounts. Each repository is mirrored locally, packed into a git bundle
(full on first sight, incremental afterwards), and uploaded to a WebDAV
share. Progress is checkpointed so an interrupted run resumes where it
left off.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "json", false, "Emit logs as JSON")
}
