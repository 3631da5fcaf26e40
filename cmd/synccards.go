package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/internal/cardsync"
)

var (
	syncCardsPort   int
	syncCardsMatch  string
	syncCardsDryRun bool
)

var syncCardsCmd = &cobra.Command{
	Use:   "sync-cards <src> <dst>",
	Short: "Copy card numbers from one terminal to another",
	Long: `sync-cards pairs the users of two terminals by user id (or uid or name with
--match) and writes the source card onto the destination record. Only the card
changes. Source records without a card are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := commonSetUp(); err != nil {
			return err
		}
		ctx := commandContext(cmd)

		match, err := cardsync.ParseMatch(syncCardsMatch)
		if err != nil {
			return err
		}
		src, err := resolveTerminal(args[0], syncCardsPort)
		if err != nil {
			return err
		}
		dst, err := resolveTerminal(args[1], syncCardsPort)
		if err != nil {
			return err
		}

		report, err := cardsync.Sync(ctx, newDialer(appCfg), src, dst, cardsync.Options{
			Match:  match,
			DryRun: syncCardsDryRun,
		})
		if err != nil {
			return err
		}
		printCardReport(cmd.OutOrStdout(), report)
		if report.Failed() {
			return errors.New("some cards could not be written")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCardsCmd)
	syncCardsCmd.Flags().IntVar(&syncCardsPort, "port", 0, "port of both terminals (default from config, 4370)")
	syncCardsCmd.Flags().StringVar(&syncCardsMatch, "match", "user_id", "field pairing the records: user_id, uid or name")
	syncCardsCmd.Flags().BoolVar(&syncCardsDryRun, "dry-run", false, "show the changes without writing them")
}

func printCardReport(out io.Writer, report cardsync.Report) {
	for _, c := range report.Changes {
		switch c.Outcome {
		case cardsync.Updated, cardsync.Planned:
			fmt.Fprintf(out, "[%s] %s (%s) uid %d: %q -> %q\n", c.Outcome, c.Key, c.Name, c.DestUID, c.OldCard, c.NewCard)
		case cardsync.Unchanged:
			fmt.Fprintf(out, "[%s] %s (%s) uid %d: %q\n", c.Outcome, c.Key, c.Name, c.DestUID, c.NewCard)
		default:
			fmt.Fprintf(out, "[%s] %s (%s): %s\n", c.Outcome, c.Key, c.Name, c.Reason)
		}
	}

	prefix := ""
	if report.DryRun {
		prefix = "dry run: "
	}
	fmt.Fprintf(out, "%s%d updated, %d planned, %d unchanged, %d missing, %d conflicts, %d failed\n",
		prefix,
		report.Count(cardsync.Updated),
		report.Count(cardsync.Planned),
		report.Count(cardsync.Unchanged),
		report.Count(cardsync.Missing),
		report.Count(cardsync.Conflict),
		report.Count(cardsync.Failed))
}
