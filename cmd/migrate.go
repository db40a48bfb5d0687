package cmd

import (
	"github.com/code-sleuth/ike-rag/pkg/db"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Run database migrations to set up the schema in the configured SQLite or Turso database.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := util.NewLogger(util.ParseLevel(cfg.LogLevel))

		database, err := db.NewConnection(cfg.Database.URL, cfg.Database.AuthToken)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to database")
			return err
		}
		defer func(database *db.DB) {
			if err := database.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			}
		}(database)

		if err := database.Migrate(cmd.Context()); err != nil {
			logger.Error().Err(err).Msg("Failed to execute migration")
			return err
		}

		logger.Info().Str("database_url", cfg.Database.URL).Msg("Database migration completed successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
