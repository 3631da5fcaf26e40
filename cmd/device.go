package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/models"
)

const timeLayout = "2006-01-02 15:04:05"

// deviceActions are the device subcommand switches, run in a fixed order.
type deviceActions struct {
	Disable   bool
	ListUsers bool
	OnlyCard  bool
	VoiceTest bool
	Enable    bool
	Info      bool
	GetTime   bool
	SyncTime  bool
}

var (
	devicePort    int
	deviceOptions deviceActions
)

var deviceCmd = &cobra.Command{
	Use:   "device <ip>",
	Short: "Inspect and control a single terminal",
	Long: `device connects to one terminal and runs the requested actions in this order:
disable, list users, voice test, enable, info, get time, sync time.
The terminal is enabled again on exit unless --disable was given alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := commonSetUp(); err != nil {
			return err
		}
		ctx := commandContext(cmd)

		t, err := resolveTerminal(args[0], devicePort)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return terminal.With(ctx, newDialer(appCfg), t, func(s terminal.Session) error {
			fmt.Fprintln(out, "Connected.")
			return runDevice(ctx, out, s, deviceOptions, time.Now)
		})
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	f := deviceCmd.Flags()
	f.IntVar(&devicePort, "port", 0, "terminal port (default from config, 4370)")
	f.BoolVar(&deviceOptions.ListUsers, "list-users", false, "list enrolled users")
	f.BoolVar(&deviceOptions.OnlyCard, "solo-tarjeta", false, "with --list-users, only users holding a card")
	f.BoolVar(&deviceOptions.VoiceTest, "voice-test", false, "play the voice test")
	f.BoolVar(&deviceOptions.Disable, "disable", false, "disable the terminal keypad and readers")
	f.BoolVar(&deviceOptions.Enable, "enable", false, "enable the terminal")
	f.BoolVar(&deviceOptions.GetTime, "get-time", false, "print the terminal clock")
	f.BoolVar(&deviceOptions.SyncTime, "sync-time", false, "set the terminal clock to the local time")
	f.BoolVar(&deviceOptions.Info, "info", false, "print serial number, firmware and counters")
}

// runDevice executes a on an open session and writes the report to out.
func runDevice(ctx context.Context, out io.Writer, s terminal.Session, a deviceActions, now func() time.Time) error {
	defer func() {
		if a.Disable && !a.Enable {
			return
		}
		if enableErr := s.EnableDevice(ctx); enableErr != nil {
			zerolog.Ctx(ctx).Warn().Err(enableErr).Msg("could not re-enable terminal")
		}
	}()

	if a.Disable {
		fmt.Fprintln(out, "Disabling device...")
		if err := s.DisableDevice(ctx); err != nil {
			return err
		}
	}

	if a.ListUsers {
		if err := printUsers(ctx, out, s, a.OnlyCard); err != nil {
			return err
		}
	}

	if a.VoiceTest {
		fmt.Fprintln(out, "Voice test...")
		if err := s.TestVoice(ctx, 0); err != nil {
			return err
		}
	}

	if a.Enable {
		fmt.Fprintln(out, "Enabling device...")
		if err := s.EnableDevice(ctx); err != nil {
			return err
		}
	}

	if a.Info {
		printInfo(out, s.Info(ctx))
	}

	if a.GetTime {
		t, err := s.Time(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Terminal time: %s\n", t.Format(timeLayout))
	}

	if a.SyncTime {
		t := now().Truncate(time.Second)
		if err := s.SetTime(ctx, t); err != nil {
			return err
		}
		fmt.Fprintf(out, "Terminal time set to: %s\n", t.Format(timeLayout))
	}
	return nil
}

func printUsers(ctx context.Context, out io.Writer, s terminal.Session, onlyCard bool) error {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "--- Users ---")
	total := 0
	for _, u := range users {
		if onlyCard && !u.HasCard() {
			continue
		}
		fmt.Fprintf(out, "+ UID #%d\n", u.UID)
		fmt.Fprintf(out, "  Name      : %s\n", u.Name)
		fmt.Fprintf(out, "  Privilege : %s\n", models.PrivilegeLabel(u.Privilege))
		fmt.Fprintf(out, "  Group ID  : %s\n", u.GroupID)
		fmt.Fprintf(out, "  User ID   : %s\n", u.UserID)
		fmt.Fprintf(out, "  Card      : %s\n", u.Card)
		fmt.Fprintln(out)
		total++
	}

	suffix := ""
	if onlyCard {
		suffix = " with card"
	}
	fmt.Fprintf(out, "Total users%s: %d\n", suffix, total)
	return nil
}

func printInfo(out io.Writer, st models.TerminalStatus) {
	fmt.Fprintf(out, "Terminal  : %s\n", st.Terminal)
	fmt.Fprintf(out, "Serial    : %s\n", st.SerialNumber)
	fmt.Fprintf(out, "Device    : %s\n", st.DeviceName)
	fmt.Fprintf(out, "Platform  : %s\n", st.Platform)
	fmt.Fprintf(out, "Firmware  : %s\n", st.Firmware)
	fmt.Fprintf(out, "MAC       : %s\n", st.MAC)
	fmt.Fprintf(out, "Users     : %d\n", st.Users)
	fmt.Fprintf(out, "Fingers   : %d\n", st.Fingers)
	fmt.Fprintf(out, "Records   : %d\n", st.Records)
	for _, e := range st.Errors {
		fmt.Fprintf(out, "Warning   : %s\n", e)
	}
}
