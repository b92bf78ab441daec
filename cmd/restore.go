package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/inovacc/starkeep/internal/model"
	"github.com/spf13/cobra"
)

var restoreDir string

var restoreCmd = &cobra.Command{
	Use:   "restore <owner/name>",
	Short: "Download a repository's bundles from the remote store",
	Long: `Restore downloads every bundle stored for a repository so the chain
can be replayed locally: git clone the full bundle, then git fetch each
incremental bundle in order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fullName := args[0]
		if _, _, err := model.SplitFullName(fullName); err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		bundles, err := a.webdav.BundleFiles(fullName)
		if err != nil {
			return err
		}

		if len(bundles) == 0 {
			return fmt.Errorf("no bundles stored for %s", fullName)
		}

		if err := os.MkdirAll(restoreDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", restoreDir, err)
		}

		out := cmd.OutOrStdout()

		for _, name := range bundles {
			remote := path.Join(a.webdav.RepoDir(fullName), name)
			local := filepath.Join(restoreDir, name)

			if err := a.webdav.Get(remote, local); err != nil {
				return err
			}

			fmt.Fprintf(out, "downloaded %s\n", local)
		}

		fmt.Fprintf(out, "%d bundle(s) restored to %s\n", len(bundles), restoreDir)

		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreDir, "dir", "d", ".", "Directory to download bundles into")
	rootCmd.AddCommand(restoreCmd)
}
