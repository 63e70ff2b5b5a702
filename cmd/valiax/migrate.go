package main

import (
	"github.com/spf13/cobra"

	"github.com/thiwi/valiax/internal/storage"
	"github.com/thiwi/valiax/migrations"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations to the metadata store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewStore(cmd.Context(), a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Migrate(cmd.Context(), migrations.Files, a.logger)
		},
	}
}
