package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/internal/timesync"
	"github.com/zktools/zk-tools/models"
)

var (
	syncTimeFile     string
	syncTimePort     int
	syncTimeOnlyRead bool
	syncTimeLogFile  string
)

var syncTimeCmd = &cobra.Command{
	Use:   "sync-time",
	Short: "Read or set the clock of every listed terminal",
	Long: `sync-time reads a terminal list file with one "label,ip" line per terminal and
sets each clock to the local time. With --only-read the clocks are only
reported. Terminals whose clock drifted past the threshold are logged as
warnings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := commonSetUp(); err != nil {
			return err
		}

		logger := log.Logger
		if syncTimeLogFile != "" {
			f, err := os.OpenFile(syncTimeLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			logger = zerolog.New(zerolog.MultiLevelWriter(os.Stderr, f)).With().Timestamp().Logger()
		}
		ctx := logger.WithContext(commandContext(cmd))

		terminals, err := syncTimeTargets(syncTimeFile, syncTimePort)
		if err != nil {
			return err
		}
		if len(terminals) == 0 {
			logger.Warn().Str("file", syncTimeFile).Msg("no terminals found")
			return nil
		}

		results := timesync.Run(ctx, newDialer(appCfg), terminals, timesync.Options{OnlyRead: syncTimeOnlyRead})
		failed := printTimeResults(cmd.OutOrStdout(), results)
		if failed > 0 {
			return fmt.Errorf("%d of %d terminals failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncTimeCmd)
	syncTimeCmd.Flags().StringVar(&syncTimeFile, "file", "terminales.txt", "terminal list file, one \"label,ip\" per line")
	syncTimeCmd.Flags().IntVar(&syncTimePort, "port", 0, "terminal port (default from config, 4370)")
	syncTimeCmd.Flags().BoolVar(&syncTimeOnlyRead, "only-read", false, "report the clocks without changing them")
	syncTimeCmd.Flags().StringVar(&syncTimeLogFile, "log-file", "", "also write the log to this file")
}

// syncTimeTargets loads the list file and falls back to the configured
// terminals when it is missing or empty.
func syncTimeTargets(path string, port int) ([]models.Terminal, error) {
	terminals, err := terminal.LoadList(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(terminals) == 0 {
		terminals = appCfg.KnownTerminals()
	}
	if port <= 0 {
		port = appCfg.Device.Port
	}
	for i := range terminals {
		terminals[i] = terminal.WithPort(terminals[i], port)
	}
	return terminals, nil
}

// printTimeResults writes one line per terminal and returns the number of
// failures.
func printTimeResults(out io.Writer, results []timesync.Result) int {
	failed := 0
	for _, r := range results {
		name := r.Terminal.Label
		if name == "" {
			name = r.Terminal.Host
		}
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(out, "%s (%s): error: %v\n", name, r.Terminal.Address(), r.Err)
		case r.Updated:
			fmt.Fprintf(out, "%s (%s): %s -> %s (drift %s)\n", name, r.Terminal.Address(),
				r.Before.Format(timeLayout), r.After.Format(timeLayout), r.DriftBefore)
		default:
			fmt.Fprintf(out, "%s (%s): %s (drift %s)\n", name, r.Terminal.Address(),
				r.Before.Format(timeLayout), r.DriftBefore)
		}
	}
	return failed
}
