package cmd

import (
	"fmt"

	"github.com/inovacc/starkeep/internal/notify"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify connectivity to GitHub, WebDAV, and Telegram",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		failed := false

		if err := a.github.TestConnection(ctx); err != nil {
			fmt.Printf("github:   FAIL (%v)\n", err)
			failed = true
		} else {
			fmt.Println("github:   ok")
		}

		if err := a.webdav.TestConnection(); err != nil {
			fmt.Printf("webdav:   FAIL (%v)\n", err)
			failed = true
		} else {
			fmt.Println("webdav:   ok")
		}

		if a.cfg.Telegram.Enabled {
			tg := notify.NewTelegramSender(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
			if err := tg.TestConnection(ctx); err != nil {
				fmt.Printf("telegram: FAIL (%v)\n", err)
				failed = true
			} else {
				fmt.Println("telegram: ok")
			}
		} else {
			fmt.Println("telegram: disabled")
		}

		if failed {
			return fmt.Errorf("one or more connection checks failed")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
