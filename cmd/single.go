package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/inovacc/starkeep/internal/model"
	"github.com/spf13/cobra"
)

var singleCmd = &cobra.Command{
	Use:   "single <owner/name>",
	Short: "Back up one repository immediately",
	Long: `Back up a single repository right now, outside any session. The
repository does not have to be starred; it is cataloged on first use.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := a.engine.BackupOne(ctx, args[0])
		if err != nil {
			return err
		}

		switch result.Outcome {
		case model.OutcomeSuccess:
			fmt.Printf("Backed up %s (%s bundle) -> %s\n", args[0], result.BundleType, result.RemotePath)
		case model.OutcomeSkipped:
			fmt.Printf("%s is already up to date\n", args[0])
		case model.OutcomeDeleted:
			fmt.Printf("%s no longer exists upstream, marked deleted\n", args[0])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(singleCmd)
}
