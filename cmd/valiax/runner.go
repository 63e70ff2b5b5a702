package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	dbconnector "github.com/thiwi/valiax"
	"github.com/thiwi/valiax/internal/connections"
	"github.com/thiwi/valiax/internal/recorder"
	"github.com/thiwi/valiax/internal/runner"
	"github.com/thiwi/valiax/internal/storage"
)

func newRunnerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runner",
		Short: "Serve run requests over HTTP and, when configured, NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRunner(cmd.Context())
		},
	}
}

// runnerDeps opens the metadata store and builds a runner on top of it. The
// returned cleanup closes the store.
func (a *app) runnerDeps(ctx context.Context) (*runner.Runner, *recorder.Recorder, func(), error) {
	store, err := storage.NewStore(ctx, a.cfg.Database.URL)
	if err != nil {
		a.logger.Error("failed to connect to db", slog.String("error", err.Error()))
		return nil, nil, nil, err
	}
	enc, err := a.encryptor()
	if err != nil {
		store.Close()
		a.logger.Error("failed to init encryptor", slog.String("error", err.Error()))
		return nil, nil, nil, err
	}
	repo := storage.NewRepository(store)
	resolver := connections.NewResolver(connections.NewPostgresStore(store.Pool, enc))
	rec := recorder.New(repo, a.cfg.Violations.CloseOnAbsence, a.logger)
	r := runner.New(ctx, repo, resolver, dbconnector.NewConnector, rec, a.limits(), a.allowlist(), a.logger)
	return r, rec, store.Close, nil
}

func (a *app) runRunner(ctx context.Context) error {
	r, rec, cleanup, err := a.runnerDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.cfg.Runner.NATSURL != "" {
		responder, err := runner.NewResponder(a.cfg.Runner.NATSURL, a.cfg.Runner.Subject, a.cfg.Runner.Queue, r, a.logger)
		if err != nil {
			a.logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			return err
		}
		defer responder.Close()
		if _, err := responder.Start(); err != nil {
			a.logger.Error("failed to subscribe", slog.String("subject", a.cfg.Runner.Subject), slog.String("error", err.Error()))
			return err
		}
		a.logger.Info("runner subscribed", slog.String("subject", a.cfg.Runner.Subject), slog.String("queue", a.cfg.Runner.Queue))
	}

	srv := &http.Server{
		Addr:              a.cfg.Runner.Addr,
		Handler:           runner.NewRouter(&runner.Handler{Runner: r, Results: rec, Timeout: 10 * time.Second}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("runner listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	a.logger.Info("waiting for in-flight rules")
	r.Wait()
	return nil
}
