package cmd

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "init-db-migrate",
	Short: "Initialize tables and run database migrations",
	Long: `This job creates the operator tables with goose migrations and adds the
default administrator when the table is empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := commonSetUp(); err != nil {
			return err
		}
		ctx := commandContext(cmd)

		operatorDB, err := openOperatorDB()
		if err != nil {
			return err
		}
		if operatorDB == nil {
			return errors.New("no database source configured")
		}
		defer operatorDB.Close()

		log.Info().Msg("Running migrations...")
		if err := operatorDB.Migrate(ctx); err != nil {
			return err
		}
		created, err := operatorDB.EnsureDefaultAdmin(ctx)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintln(cmd.OutOrStdout(), "Default administrator created.")
		}

		log.Info().Msg("Migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
