package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/thiwi/valiax/internal/schedule"
	"github.com/thiwi/valiax/internal/scheduler"
	"github.com/thiwi/valiax/internal/storage"
)

func newDueCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "Print the rules due now, grouped by connection, as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return err
				}
				now = parsed
			}
			store, err := storage.NewStore(cmd.Context(), a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()
			builder := scheduler.NewBuilder(storage.NewRepository(store), schedule.NewResolver(a.cfg.Location()), a.logger)
			groups, err := builder.BuildDueGroups(cmd.Context(), now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(groups)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate due-ness at this RFC3339 time instead of now")
	return cmd
}
