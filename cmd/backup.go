package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/inovacc/starkeep/internal/lock"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup pass over all starred repositories",
	Long: `Run a single backup pass: list stars for every configured account,
deduplicate, and back each repository up in turn. An interrupted pass
resumes at its checkpoint on the next invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := a.engine.Run(ctx)
		if summary != nil {
			fmt.Printf("Backed up %d repositories in %s: %d ok, %d skipped, %d failed, %d deleted\n",
				summary.TotalRepos, summary.DurationString(),
				summary.SuccessCount, summary.SkippedCount, summary.FailedCount, summary.DeletedCount)
		}

		return err
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
