package cli

import (
	"context"
	"fmt"

	"autoflow/internal/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long:  `Run AutoMigrate for rules, execution records and recommendations, and check the template catalog loads`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := database.Migrate(a.db); err != nil {
				return err
			}
			a.logger.Infof("migrate: schema up to date, %d templates in catalog", len(a.catalog.All()))
			fmt.Println("migration completed")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
