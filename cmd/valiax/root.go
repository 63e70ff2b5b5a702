package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thiwi/valiax/internal/config"
	"github.com/thiwi/valiax/internal/crypto"
	"github.com/thiwi/valiax/internal/security"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:           "valiax",
		Short:         "Scheduled data-quality rule engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./valiax.yaml or $HOME/.valiax/valiax.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("database-url", "", "metadata store DSN")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag("database.url", root.PersistentFlags().Lookup("database-url"))

	root.AddCommand(
		newSchedulerCmd(a),
		newRunnerCmd(a),
		newDueCmd(a),
		newExecCmd(a),
		newMigrateCmd(a),
		newEncryptCmd(a),
	)
	return root
}

func (a *app) load(cfgFile string) error {
	config.SetDefaults(a.v)
	config.BindEnv(a.v)
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("valiax")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".valiax"))
		}
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", slog.String("path", used))
	}
	return nil
}

func (a *app) encryptor() (*crypto.AesGcmEncryptor, error) {
	if a.cfg.EncryptionKey == "" {
		return nil, errors.New("encryption_key is required (VALIAX_ENCRYPTION_KEY or ENCRYPTION_KEY)")
	}
	return crypto.NewAesGcmEncryptor([]byte(a.cfg.EncryptionKey))
}

func (a *app) limits() security.Limits {
	limits := security.DefaultLimits()
	limits.RuleTimeout = a.cfg.Runner.RuleTimeout
	if a.cfg.Runner.MaxOffendingRows > 0 {
		limits.MaxOffendingRows = a.cfg.Runner.MaxOffendingRows
	}
	if a.cfg.Runner.MaxScanRows > 0 {
		limits.MaxScanRows = a.cfg.Runner.MaxScanRows
	}
	return limits
}

func (a *app) allowlist() security.Allowlist {
	return security.Allowlist{Tables: a.cfg.Runner.AllowlistTables}
}
