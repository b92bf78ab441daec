package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var skiplistCmd = &cobra.Command{
	Use:   "skiplist",
	Short: "Show repositories excluded from backup runs",
	Long: `Show the persisted skip list. Repositories land here automatically
when backing them up exhausted local storage; entries are only ever
removed manually.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.db.ListSkipEntries()
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Skip list is empty")
			return nil
		}

		for _, entry := range entries {
			fmt.Printf("%s\t%s\t%s\n", entry.FullName, entry.CreatedAt.Format("2006-01-02"), entry.Reason)
		}

		return nil
	},
}

var skiplistRemoveCmd = &cobra.Command{
	Use:   "remove <owner/name>",
	Short: "Remove one repository from the skip list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.RemoveSkipEntry(args[0]); err != nil {
			return err
		}

		fmt.Printf("Removed %s from skip list\n", args[0])

		return nil
	},
}

var skiplistClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the entire skip list",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.ClearSkipEntries(); err != nil {
			return err
		}

		fmt.Println("Skip list cleared")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(skiplistCmd)
	skiplistCmd.AddCommand(skiplistRemoveCmd)
	skiplistCmd.AddCommand(skiplistClearCmd)
}
