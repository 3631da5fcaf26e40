package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/api/handlers"
	"github.com/zktools/zk-tools/api/services"
	"github.com/zktools/zk-tools/internal/authn"
	"github.com/zktools/zk-tools/internal/directory"
	"github.com/zktools/zk-tools/internal/selection"
)

var (
	host string
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web tool",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := commonSetUp(); err != nil {
			return err
		}
		ctx := commandContext(cmd)

		if cmd.Flags().Changed("host") {
			appCfg.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			appCfg.Server.Port = port
		}

		signer, err := authn.NewSigner(appCfg.Auth.Secret, appCfg.Auth.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to set up sessions: %w", err)
		}

		service := &services.Service{
			Config: appCfg,
			Dialer: newDialer(appCfg),
			Store:  selection.NewStore(appCfg.Server.SessionIdle),
			Signer: signer,
		}

		operatorDB, err := openOperatorDB()
		if err != nil {
			return fmt.Errorf("failed to open operator database: %w", err)
		}
		if operatorDB != nil {
			defer operatorDB.Close()
			if err := operatorDB.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if _, err := operatorDB.EnsureDefaultAdmin(ctx); err != nil {
				return fmt.Errorf("failed to create default operator: %w", err)
			}
			service.DB = operatorDB
		}

		if appCfg.Directory.URL != "" {
			service.Directory = directory.NewClient(appCfg.Directory.URL, appCfg.Directory.TTL, appCfg.Directory.Timeout)
		}

		if !service.AuthEnabled() {
			log.Warn().Msg("no access token or operator database configured, the web tool is open")
		}

		addr := fmt.Sprintf("%s:%d", appCfg.Server.Host, appCfg.Server.Port)
		server := &http.Server{
			Addr:              addr,
			Handler:           handlers.NewRouter(service),
			ReadHeaderTimeout: 10 * time.Second,
		}

		log.Info().Msg(fmt.Sprintf("Server started at %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("could not start server")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&host, "host", "0.0.0.0", "host to run the server on")
	serveCmd.Flags().IntVar(&port, "port", 5000, "port to run the server on")
}
