package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	dbconnector "github.com/thiwi/valiax"
	"github.com/thiwi/valiax/internal/connections"
	"github.com/thiwi/valiax/internal/dispatch"
	"github.com/thiwi/valiax/internal/inflight"
	"github.com/thiwi/valiax/internal/metrics"
	"github.com/thiwi/valiax/internal/recorder"
	"github.com/thiwi/valiax/internal/rules"
	"github.com/thiwi/valiax/internal/security"
	"github.com/thiwi/valiax/internal/storage"
)

type ConnectorFactory func(cfg dbconnector.ConnectionConfig) (dbconnector.DbConnector, error)

type RuleStore interface {
	LoadRules(ctx context.Context, connectionID string, ids []string) ([]rules.Rule, error)
}

type Recorder interface {
	Begin(ctx context.Context, ruleID string, start time.Time) (recorder.Run, error)
	Record(ctx context.Context, run recorder.Run, rule rules.Rule, outcome recorder.Outcome) error
}

var validate = validator.New()

type Runner struct {
	Rules            RuleStore
	Resolver         connections.Resolver
	ConnectorFactory ConnectorFactory
	Recorder         Recorder
	InFlight         *inflight.Registry
	Limits           security.Limits
	Allowlist        security.Allowlist
	Logger           *slog.Logger

	// base outlives individual requests so accepted work finishes after the
	// response is written.
	base context.Context
	wg   sync.WaitGroup
}

func New(ctx context.Context, store RuleStore, resolver connections.Resolver, factory ConnectorFactory, rec Recorder, limits security.Limits, allow security.Allowlist, logger *slog.Logger) *Runner {
	return &Runner{
		Rules:            store,
		Resolver:         resolver,
		ConnectorFactory: factory,
		Recorder:         rec,
		InFlight:         inflight.NewRegistry(),
		Limits:           limits,
		Allowlist:        allow,
		Logger:           logger,
		base:             context.WithoutCancel(ctx),
	}
}

// Execute evaluates ruleIDs sequentially against one connection and returns
// one outcome per requested id, in request order.
func (r *Runner) Execute(ctx context.Context, connectionID string, ruleIDs []string) []recorder.Outcome {
	outcomes, _ := r.execute(ctx, connectionID, ruleIDs)
	return outcomes
}

func (r *Runner) execute(ctx context.Context, connectionID string, ruleIDs []string) ([]recorder.Outcome, map[string]rules.Rule) {
	loaded, err := r.Rules.LoadRules(ctx, connectionID, ruleIDs)
	if err != nil {
		return failAll(ruleIDs, fmt.Errorf("load rules: %w", err)), nil
	}
	byID := make(map[string]rules.Rule, len(loaded))
	for _, rule := range loaded {
		byID[rule.ID] = rule
	}

	cfg, err := r.Resolver.Resolve(ctx, connectionID)
	if err != nil {
		return failAll(ruleIDs, fmt.Errorf("resolve connection %s: %w", connectionID, err)), byID
	}
	conn, err := r.ConnectorFactory(cfg)
	if err != nil {
		return failAll(ruleIDs, fmt.Errorf("connect %s: %w", connectionID, err)), byID
	}
	defer conn.Close()
	session, err := conn.Open(ctx)
	if err != nil {
		return failAll(ruleIDs, fmt.Errorf("connect %s: %w", connectionID, err)), byID
	}
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	outcomes := make([]recorder.Outcome, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, ok := byID[id]
		if !ok {
			now := time.Now().UTC()
			outcomes = append(outcomes, recorder.Outcome{RuleID: id, Status: storage.RunError, Error: "rule not found for connection " + connectionID, Start: now, End: now})
			continue
		}
		if session == nil {
			if session, err = conn.Open(ctx); err != nil {
				session = nil
				now := time.Now().UTC()
				outcomes = append(outcomes, recorder.Outcome{RuleID: id, Status: storage.RunError, Error: fmt.Sprintf("connect %s: %v", connectionID, err), Start: now, End: now})
				continue
			}
		}
		outcome := r.evaluate(ctx, session, conn.Dialect(), rule)
		if outcome.Status == storage.RunTimeout {
			// The session may still be busy with the abandoned statement.
			abandoned := session
			session = nil
			go func() { _ = abandoned.Close() }()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, byID
}

func (r *Runner) evaluate(ctx context.Context, session dbconnector.Session, dialect dbconnector.Dialect, rule rules.Rule) (out recorder.Outcome) {
	out = recorder.Outcome{RuleID: rule.ID, Start: time.Now().UTC()}
	defer func() {
		if p := recover(); p != nil {
			out.Status = storage.RunError
			out.Error = fmt.Sprintf("panic: %v", p)
			out.Offending = nil
			r.Logger.Error("rule evaluation panicked", slog.String("rule_id", rule.ID), slog.String("error", out.Error))
		}
		out.End = time.Now().UTC()
	}()

	body, perr := rules.ParseBody(rule.Text)
	if perr != nil {
		out.Status = storage.RunError
		out.Error = perr.Error()
		return out
	}
	plan, err := rules.Compile(body, rule, dialect, r.Limits, r.Allowlist)
	if err != nil {
		out.Status = storage.RunError
		out.Error = err.Error()
		return out
	}

	timeout := r.Limits.RuleTimeout
	if timeout <= 0 {
		timeout = security.DefaultLimits().RuleTimeout
	}
	ruleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err = runPlan(ruleCtx, session, plan, &out); err == nil {
		out.Status = storage.RunCompleted
		return out
	}
	if errors.Is(ruleCtx.Err(), context.DeadlineExceeded) {
		out.Status = storage.RunTimeout
		out.Error = "timeout"
		return out
	}
	out.Status = storage.RunError
	out.Error = err.Error()
	return out
}

// runPlan fills the counts and offending rows of out. Offending rows beyond
// plan.Limit are counted but not listed, and a capped in-process scan only
// counts the rows it read as checked.
func runPlan(ctx context.Context, session dbconnector.Session, plan rules.Plan, out *recorder.Outcome) error {
	checked, err := session.Count(ctx, plan.CountQuery, plan.CountArgs...)
	if err != nil {
		return err
	}
	var failed int64
	if plan.FailedQuery != "" {
		if failed, err = session.Count(ctx, plan.FailedQuery, plan.FailedArgs...); err != nil {
			return err
		}
	}
	scanned, err := session.Collect(ctx, plan.RowsQuery, plan.ScanLimit, plan.RowsArgs...)
	if err != nil {
		return err
	}
	ev := plan.Evaluate(scanned)
	if plan.FailedQuery == "" {
		failed = ev.Matched
		if ev.ScanCapped {
			out.Truncated = true
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("scan limit reached: checked %d of %d rows", len(scanned), checked))
			checked = int64(len(scanned))
		}
	}
	if listed := int64(len(ev.Offending)); failed > listed {
		out.Truncated = true
		out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("offending rows truncated: reported %d of %d", listed, failed))
	}
	out.CheckedRows = checked
	out.FailedCount = failed
	out.Offending = ev.Offending
	return nil
}

func failAll(ids []string, err error) []recorder.Outcome {
	now := time.Now().UTC()
	outcomes := make([]recorder.Outcome, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, recorder.Outcome{RuleID: id, Status: storage.RunError, Error: err.Error(), Start: now, End: now})
	}
	return outcomes
}

type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid run request: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

type accepted struct {
	token inflight.Token
	run   recorder.Run
}

// Submit accepts a run request: each rule of the connection not already in
// flight gets a run record and is evaluated in the background. Rules already
// running are reported as deferred, and ids that are not rules of the
// connection as rejected.
func (r *Runner) Submit(ctx context.Context, req dispatch.Request) (dispatch.Ack, error) {
	if err := validate.Struct(req); err != nil {
		return dispatch.Ack{}, &ValidationError{Err: err}
	}
	ids := make([]string, 0, len(req.RuleIDs))
	seen := map[string]bool{}
	for _, id := range req.RuleIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	owned, err := r.Rules.LoadRules(ctx, req.DBConnID, ids)
	if err != nil {
		return dispatch.Ack{}, fmt.Errorf("load rules: %w", err)
	}
	belongs := make(map[string]bool, len(owned))
	for _, rule := range owned {
		belongs[rule.ID] = true
	}

	ack := dispatch.Ack{Accepted: []string{}, Deferred: []string{}, Rejected: []string{}}
	var taken []accepted
	for _, id := range ids {
		if !belongs[id] {
			ack.Rejected = append(ack.Rejected, id)
			continue
		}
		tok, ok := r.InFlight.Acquire(id)
		if !ok {
			ack.Deferred = append(ack.Deferred, id)
			continue
		}
		run, err := r.Recorder.Begin(ctx, id, time.Now())
		if err != nil {
			r.InFlight.Release(tok)
			if !errors.Is(err, recorder.ErrRunInFlight) {
				r.Logger.Error("failed to open run", slog.String("rule_id", id), slog.String("error", err.Error()))
			}
			ack.Deferred = append(ack.Deferred, id)
			continue
		}
		taken = append(taken, accepted{token: tok, run: run})
		ack.Accepted = append(ack.Accepted, id)
	}
	if len(ack.Rejected) > 0 {
		r.Logger.Warn("rules not found for connection",
			slog.String("db_conn_id", req.DBConnID),
			slog.Any("rule_ids", ack.Rejected))
	}
	metrics.DeferredRulesTotal.Add(float64(len(ack.Deferred)))
	metrics.InFlightRules.Set(float64(r.InFlight.Len()))
	if len(taken) == 0 {
		return ack, nil
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process(req.DBConnID, taken)
	}()
	return ack, nil
}

func (r *Runner) process(connectionID string, taken []accepted) {
	defer func() {
		for _, a := range taken {
			r.InFlight.Release(a.token)
		}
		metrics.InFlightRules.Set(float64(r.InFlight.Len()))
	}()
	ids := make([]string, len(taken))
	for i, a := range taken {
		ids[i] = a.run.RuleID
	}
	ctx := r.base
	if ctx == nil {
		ctx = context.Background()
	}
	outcomes, byID := r.execute(ctx, connectionID, ids)
	for i, outcome := range outcomes {
		run := taken[i].run
		rule, ok := byID[run.RuleID]
		if !ok {
			rule = rules.Rule{ID: run.RuleID}
		}
		if err := r.Recorder.Record(ctx, run, rule, outcome); err != nil {
			r.Logger.Error("failed to record outcome", slog.String("rule_id", run.RuleID), slog.String("run_id", run.ID), slog.String("error", err.Error()))
			continue
		}
		r.Logger.Info("rule evaluated",
			slog.String("rule_id", run.RuleID),
			slog.String("status", outcome.Status),
			slog.Int64("checked_rows", outcome.CheckedRows),
			slog.Int64("failed_rows", outcome.FailedRows()))
	}
}

// Wait blocks until background executions have been recorded.
func (r *Runner) Wait() {
	r.wg.Wait()
}
