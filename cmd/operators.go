package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zktools/zk-tools/db"
)

var (
	operatorPassword string
	operatorAdmin    bool
)

var operatorsCmd = &cobra.Command{
	Use:   "operators",
	Short: "Manage web tool operator accounts",
}

var operatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operator accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperatorDB(cmd, func(ctx context.Context, operatorDB *db.OperatorDB) error {
			operators, err := operatorDB.ListOperators(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tADMIN\tCREATED")
			for _, op := range operators {
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", op.ID, op.Username, op.IsAdmin, op.CreatedAt.Format(timeLayout))
			}
			return w.Flush()
		})
	},
}

var operatorsCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an operator account",
	Long: `create adds an operator. The password comes from --password or the
ZK_TOOLS_OPERATOR_PASSWORD environment variable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := operatorPassword
		if password == "" {
			password = os.Getenv("ZK_TOOLS_OPERATOR_PASSWORD")
		}
		if password == "" {
			return errors.New("a password is required")
		}

		return withOperatorDB(cmd, func(ctx context.Context, operatorDB *db.OperatorDB) error {
			op, err := operatorDB.CreateOperator(ctx, args[0], password, operatorAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operator %s created with id %d.\n", op.Username, op.ID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(operatorsCmd)
	operatorsCmd.AddCommand(operatorsListCmd, operatorsCreateCmd)
	operatorsCreateCmd.Flags().StringVar(&operatorPassword, "password", "", "password of the new operator")
	operatorsCreateCmd.Flags().BoolVar(&operatorAdmin, "admin", false, "grant administrator rights")
}

// withOperatorDB opens and migrates the configured store around fn.
func withOperatorDB(cmd *cobra.Command, fn func(context.Context, *db.OperatorDB) error) error {
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

	if err := operatorDB.Migrate(ctx); err != nil {
		return err
	}
	return fn(ctx, operatorDB)
}
