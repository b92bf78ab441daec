package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/inovacc/starkeep/internal/lock"
	"github.com/inovacc/starkeep/internal/scheduler"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backup passes on the configured cron schedule",
	Long: `Run in the foreground and trigger a backup pass on the cron schedule
from the configuration file. A trigger that fires while a pass is still
running is dropped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runNow, _ := cmd.Flags().GetBool("now")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := lock.Acquire(a.cfg.Backup.TempDir, a.logger)
		if err != nil {
			return err
		}
		defer func() { _ = l.Release() }()

		sched, err := scheduler.New(a.cfg.Backup.Schedule, func(ctx context.Context) {
			if _, err := a.engine.Run(ctx); err != nil {
				a.logger.Error("scheduled run failed", slog.String("error", err.Error()))
			}
		}, a.logger)
		if err != nil {
			return err
		}

		a.logger.Info("running on schedule", slog.String("cron", a.cfg.Backup.Schedule))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched.Run(ctx, runNow)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().Bool("now", false, "Run one pass immediately before the schedule takes over")
}
