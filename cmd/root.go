package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/db"
	"github.com/zktools/zk-tools/internal/appconfig"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/models"
)

var (
	logLevel   string
	configPath string
	appCfg     *appconfig.Config
)

// newDialer builds the terminal dialer. Tests replace it with a fake.
var newDialer = func(cfg *appconfig.Config) terminal.Dialer {
	return terminal.NewZKDialer(cfg.ZKOptions())
}

var rootCmd = &cobra.Command{
	Use:   "zk-tools",
	Short: "ZK terminal tools",
	Long: `zk-tools manages enrollment records on ZK biometric attendance terminals:
list and edit users, copy card numbers between terminals, keep clocks in sync
and run the web tool.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn",
		"sets the log level")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ZK_TOOLS_CONFIG"),
		"path to the YAML config file")
}

// commonSetUp sets the log level and loads the config.
func commonSetUp() error {
	setLogging(logLevel)

	var err error
	appCfg, err = appconfig.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

func setLogging(level string) {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

// commandContext attaches the global logger to the command context so the
// library packages can log through zerolog.Ctx.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return log.Logger.WithContext(ctx)
}

// resolveTerminal parses a terminal argument. An explicit --port wins over
// the default port, and the configured device port comes last.
func resolveTerminal(value string, port int) (models.Terminal, error) {
	t, err := terminal.ParseAddress(value)
	if err != nil {
		return models.Terminal{}, fmt.Errorf("invalid terminal %q: %w", value, err)
	}
	if port <= 0 {
		port = appCfg.Device.Port
	}
	return terminal.WithPort(t, port), nil
}

// openOperatorDB connects to the configured operator store. It returns nil
// when no database source is configured.
func openOperatorDB() (*db.OperatorDB, error) {
	if appCfg.Database.Source == "" {
		return nil, nil
	}
	logger := log.With().Str("component", "db").Logger()
	return db.NewOperatorDB(appCfg.Database.Driver, appCfg.Database.Source, &logger)
}
