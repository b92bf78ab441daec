package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the catalog and the last session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repos, err := a.db.ListRepositories()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		fmt.Fprintln(out, titleStyle.Render("Repository catalog"))

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, headerStyle.Render("REPOSITORY\tLAST BACKUP\tTYPE\tCOMMIT\tSTATE"))

		for _, repo := range repos {
			state := "ok"
			if repo.IsDeleted {
				state = deletedStyle.Render("deleted upstream")
			}

			lastBackup := dimStyle.Render("never")
			bundleType := "-"
			commit := "-"

			if rec, err := a.db.LatestBackup(repo.ID); err == nil && rec != nil {
				lastBackup = rec.BackupTime.Format("2006-01-02 15:04")
				bundleType = string(rec.BundleType)
				commit = shortCommit(rec.CommitHash)
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", repo.FullName, lastBackup, bundleType, commit, state)
		}

		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%d repositories cataloged\n", len(repos))

		session, err := a.db.LatestRunningSession()
		if err != nil {
			return err
		}

		if session != nil {
			fmt.Fprintln(out, titleStyle.Render("\nInterrupted session"))
			fmt.Fprintf(out, "  id:        %s\n", session.SessionID)
			fmt.Fprintf(out, "  progress:  %d/%d\n", session.CurrentIndex+1, session.TotalRepos)
			fmt.Fprintf(out, "  last repo: %s\n", session.LastRepoFullName)
			fmt.Fprintf(out, "  started:   %s\n", session.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintln(out, dimStyle.Render("  the next backup run resumes after the last repo"))
		}

		return nil
	},
}

func shortCommit(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}

	if strings.TrimSpace(hash) == "" {
		return "-"
	}

	return hash
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
