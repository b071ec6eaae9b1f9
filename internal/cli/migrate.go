package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"callrelay.app/relay/core/config"
	"callrelay.app/relay/core/db"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ServiceTypeCLI)
			if err != nil {
				return err
			}
			database, err := db.New(cmd.Context(), cfg.DB)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer database.Close()

			if err := database.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
