package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/thiwi/valiax/internal/dispatch"
	"github.com/thiwi/valiax/internal/httpx"
	"github.com/thiwi/valiax/internal/recorder"
	"github.com/thiwi/valiax/internal/schedule"
	"github.com/thiwi/valiax/internal/scheduler"
	"github.com/thiwi/valiax/internal/storage"
)

func newSchedulerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the trigger loop that dispatches due rules to runners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScheduler(cmd.Context())
		},
	}
}

func (a *app) newDispatcher() (dispatch.Dispatcher, func(), error) {
	switch a.cfg.Dispatch.Transport {
	case "nats":
		d, err := dispatch.NewNATSDispatcher(a.cfg.Dispatch.NATSURL, a.cfg.Dispatch.Subject, a.cfg.Dispatch.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return dispatch.NewHTTPDispatcher(a.cfg.Dispatch.RunnerURL, a.cfg.Dispatch.Timeout), func() {}, nil
	}
}

func (a *app) runScheduler(ctx context.Context) error {
	store, err := storage.NewStore(ctx, a.cfg.Database.URL)
	if err != nil {
		a.logger.Error("failed to connect to db", slog.String("error", err.Error()))
		return err
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	dispatcher, closeDispatcher, err := a.newDispatcher()
	if err != nil {
		a.logger.Error("failed to set up dispatcher", slog.String("transport", a.cfg.Dispatch.Transport), slog.String("error", err.Error()))
		return err
	}
	defer closeDispatcher()

	rec := recorder.New(repo, a.cfg.Violations.CloseOnAbsence, a.logger)
	builder := scheduler.NewBuilder(repo, schedule.NewResolver(a.cfg.Location()), a.logger)
	trigger := scheduler.NewTrigger(builder, dispatcher, rec, scheduler.Config{
		Tick:                    a.cfg.Scheduler.Tick,
		Window:                  a.cfg.Scheduler.Window,
		StaleRunAfter:           a.cfg.Scheduler.StaleRunAfter,
		MaxConcurrentDispatches: a.cfg.Scheduler.MaxConcurrentDispatches,
	}, a.logger)

	srv := &http.Server{
		Addr:              a.cfg.Scheduler.AdminAddr,
		Handler:           newAdminRouter(trigger, builder),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		a.logger.Info("scheduler admin server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server error", slog.String("error", err.Error()))
		}
	}()

	a.logger.Info("scheduler started",
		slog.String("transport", dispatcher.Name()),
		slog.Duration("tick", a.cfg.Scheduler.Tick),
		slog.Duration("window", a.cfg.Scheduler.Window),
		slog.String("timezone", a.cfg.Scheduler.Timezone))
	err = trigger.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.logger.Info("scheduler stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type triggerStatus interface {
	State() scheduler.State
	LastTick() scheduler.TickReport
}

type dueBuilder interface {
	BuildDueGroups(ctx context.Context, now time.Time) ([]scheduler.DueGroup, error)
}

func newAdminRouter(trigger triggerStatus, builder dueBuilder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"state":     trigger.State().String(),
			"last_tick": trigger.LastTick(),
		})
	})
	r.Get("/due", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		groups, err := builder.BuildDueGroups(ctx, time.Now())
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, groups)
	})
	return r
}
