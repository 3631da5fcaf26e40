package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/internal/cardsync"
)

var (
	updateCardPort   int
	updateCardUserID string
	updateCardCard   string
)

var updateCardCmd = &cobra.Command{
	Use:   "update-card <ip>",
	Short: "Set the card number of one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := commonSetUp(); err != nil {
			return err
		}
		ctx := commandContext(cmd)

		if strings.TrimSpace(updateCardUserID) == "" {
			return errors.New("--user-id is required")
		}
		t, err := resolveTerminal(args[0], updateCardPort)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		changed, err := cardsync.UpdateCard(ctx, newDialer(appCfg), t, updateCardUserID, updateCardCard)
		switch {
		case errors.Is(err, cardsync.ErrUserNotFound):
			fmt.Fprintln(out, "User not found.")
			return err
		case err != nil:
			return err
		case changed:
			fmt.Fprintln(out, "Card updated.")
		default:
			fmt.Fprintln(out, "Card already set.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCardCmd)
	updateCardCmd.Flags().IntVar(&updateCardPort, "port", 0, "terminal port (default from config, 4370)")
	updateCardCmd.Flags().StringVar(&updateCardUserID, "user-id", "", "user id of the record to change")
	updateCardCmd.Flags().StringVar(&updateCardCard, "card", "", "new card number")
}
