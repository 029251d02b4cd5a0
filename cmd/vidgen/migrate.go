package main

import (
	"fmt"

	"github.com/phrazzld/vidgen/internal/config"
	"github.com/phrazzld/vidgen/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|reset|status|version",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if a.cfg.Database.Store != config.StorePostgres {
				return fmt.Errorf("migrations need the postgres store, got %q", a.cfg.Database.Store)
			}

			db, err := postgres.Open(cmd.Context(), a.cfg.Database.URL)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, db.Close)

			return postgres.Migrate(cmd.Context(), db, a.logger, args[0])
		},
	}
}
