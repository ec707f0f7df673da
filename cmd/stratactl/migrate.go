package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/strata-dw/strata/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply warehouse schema migrations",
	Long:  "Applies all pending schema migrations to the configured database, regardless of database.auto_migrate.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.Type == "memory" {
			return fmt.Errorf("the memory backend has no schema to migrate")
		}

		c := *cfg
		c.Database.AutoMigrate = true
		_, _, closeDB, err := bootstrap.OpenStores(&c)
		if err != nil {
			return err
		}
		defer closeDB() //nolint:errcheck

		slog.Info("Migrations applied", "database_type", c.Database.Type)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
