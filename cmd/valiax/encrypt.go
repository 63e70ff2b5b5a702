package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	dbconnector "github.com/thiwi/valiax"
	"github.com/thiwi/valiax/internal/storage"
)

func newEncryptCmd(a *app) *cobra.Command {
	var (
		save     bool
		name     string
		connType string
	)
	cmd := &cobra.Command{
		Use:   "encrypt <connection-string>",
		Short: "Encrypt a connection string with the configured key, optionally storing it as a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := a.encryptor()
			if err != nil {
				return err
			}
			cipherText, err := enc.Encrypt(args[0])
			if err != nil {
				return err
			}
			if !save {
				fmt.Fprintln(cmd.OutOrStdout(), cipherText)
				return nil
			}
			if strings.TrimSpace(name) == "" || strings.TrimSpace(connType) == "" {
				return errors.New("--name and --type are required with --store")
			}
			if _, err := dbconnector.ParseConnectionString(connType, args[0]); err != nil {
				return err
			}
			store, err := storage.NewStore(cmd.Context(), a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()
			id, err := storage.NewRepository(store).CreateConnection(cmd.Context(), name, connType, cipherText)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "store", false, "insert the encrypted connection into db_connections and print its id")
	cmd.Flags().StringVar(&name, "name", "", "connection name (with --store)")
	cmd.Flags().StringVar(&connType, "type", "", "connection type: postgres, mysql, mssql or oracle (with --store)")
	return cmd
}
