package main

import (
	"github.com/spf13/cobra"

	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/postgres"
	"github.com/matheus-giordani/emme7-bot/internal/postgres/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version|force N]",
	Short: "Apply or roll back the PostgreSQL schema",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, lg := setup(cmd.Context())
		if err := postgres.RunMigrate(lg, conf.PostgresDSN(), migrations.FS, args[0], args[1:]); err != nil {
			lg.Error("migrate", sl.Err(err))
			return err
		}
		return nil
	},
}
