package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thiwi/valiax/internal/dispatch"
	"github.com/thiwi/valiax/internal/metrics"
)

type State int

const (
	Idle State = iota
	Running
	// Overdue means a tick arrived while the previous one was still running.
	Overdue
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Overdue:
		return "overdue"
	}
	return "unknown"
}

var ErrTickSkipped = errors.New("previous tick still running")

type DueSetBuilder interface {
	BuildDueGroups(ctx context.Context, now time.Time) ([]DueGroup, error)
}

type StaleExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
}

type Config struct {
	Tick                    time.Duration
	Window                  time.Duration
	StaleRunAfter           time.Duration
	MaxConcurrentDispatches int
}

// TickReport summarizes one tick.
type TickReport struct {
	At         time.Time `json:"at"`
	Groups     int       `json:"groups"`
	Rules      int       `json:"rules"`
	Dispatched int       `json:"dispatched"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
	Expired    int       `json:"expired"`
	Error      string    `json:"error,omitempty"`
}

type Trigger struct {
	builder    DueSetBuilder
	dispatcher dispatch.Dispatcher
	expirer    StaleExpirer
	cfg        Config
	logger     *slog.Logger

	mu    sync.Mutex
	state State
	last  TickReport
	wg    sync.WaitGroup
}

func NewTrigger(builder DueSetBuilder, dispatcher dispatch.Dispatcher, expirer StaleExpirer, cfg Config, logger *slog.Logger) *Trigger {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Minute
	}
	if cfg.MaxConcurrentDispatches <= 0 {
		cfg.MaxConcurrentDispatches = 8
	}
	return &Trigger{builder: builder, dispatcher: dispatcher, expirer: expirer, cfg: cfg, logger: logger}
}

func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Trigger) LastTick() TickReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Run ticks immediately and then every cfg.Tick until ctx is done. Ticks run
// in the background so an overrunning tick is detected rather than queued.
func (t *Trigger) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Tick)
	defer ticker.Stop()
	t.spawn(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			t.wg.Wait()
			return ctx.Err()
		case now := <-ticker.C:
			t.spawn(ctx, now)
		}
	}
}

func (t *Trigger) spawn(ctx context.Context, now time.Time) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_, _ = t.Tick(ctx, now)
	}()
}

// Tick builds the due set for now and hands every group to the dispatcher.
// It returns ErrTickSkipped without doing anything if a tick is in progress.
func (t *Trigger) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	t.mu.Lock()
	if t.state != Idle {
		t.state = Overdue
		t.mu.Unlock()
		t.logger.Warn("scheduler tick skipped, previous tick still running", slog.Time("tick", now))
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return TickReport{}, ErrTickSkipped
	}
	t.state = Running
	t.mu.Unlock()

	report := TickReport{At: now.UTC()}
	defer func() {
		t.mu.Lock()
		t.state = Idle
		t.last = report
		t.mu.Unlock()
	}()

	windowCtx, cancel := context.WithTimeout(ctx, t.cfg.Window)
	defer cancel()

	if t.expirer != nil && t.cfg.StaleRunAfter > 0 {
		n, err := t.expirer.ExpireStale(windowCtx, now.Add(-t.cfg.StaleRunAfter))
		if err != nil {
			t.logger.Error("failed to expire stale runs", slog.String("error", err.Error()))
		}
		report.Expired = n
	}

	groups, err := t.builder.BuildDueGroups(windowCtx, now)
	if err != nil {
		report.Error = err.Error()
		t.logger.Error("due set build failed, tick skipped", slog.String("error", err.Error()))
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		return report, err
	}
	report.Groups = len(groups)
	for _, g := range groups {
		report.Rules += len(g.RuleIDs)
	}
	metrics.DueRules.Set(float64(report.Rules))

	var dispatched, failed, cancelled int64
	var g errgroup.Group
	g.SetLimit(t.cfg.MaxConcurrentDispatches)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			if windowCtx.Err() != nil {
				atomic.AddInt64(&cancelled, 1)
				t.logger.Warn("dispatch cancelled, tick window expired", slog.String("db_conn_id", group.DBConnID))
				return nil
			}
			// A started dispatch is allowed to finish after the window closes.
			ack, err := t.dispatcher.Dispatch(context.WithoutCancel(windowCtx), group.Request())
			if err != nil {
				atomic.AddInt64(&failed, 1)
				metrics.DispatchesTotal.WithLabelValues(t.dispatcher.Name(), "error").Inc()
				t.logger.Error("dispatch failed",
					slog.String("db_conn_id", group.DBConnID),
					slog.Int("rules", len(group.RuleIDs)),
					slog.String("error", err.Error()))
				return nil
			}
			atomic.AddInt64(&dispatched, 1)
			metrics.DispatchesTotal.WithLabelValues(t.dispatcher.Name(), "ok").Inc()
			t.logger.Info("dispatched group",
				slog.String("db_conn_id", group.DBConnID),
				slog.Int("accepted", len(ack.Accepted)),
				slog.Int("deferred", len(ack.Deferred)),
				slog.Int("rejected", len(ack.Rejected)))
			return nil
		})
	}
	_ = g.Wait()
	report.Dispatched = int(dispatched)
	report.Failed = int(failed)
	report.Cancelled = int(cancelled)
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	return report, nil
}
