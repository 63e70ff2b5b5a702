package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dbconnector "github.com/thiwi/valiax"
	"github.com/thiwi/valiax/internal/metrics"
	"github.com/thiwi/valiax/internal/rules"
	"github.com/thiwi/valiax/internal/storage"
)

var ErrRunInFlight = storage.ErrRunInFlight

const (
	PayloadSuccess = "success"
	PayloadFailure = "failure"
)

// Outcome is the result of evaluating one rule.
type Outcome struct {
	RuleID      string            `json:"rule_id"`
	Status      string            `json:"status"`
	CheckedRows int64             `json:"checked_rows"`
	Offending   []dbconnector.Row `json:"-"`
	// FailedCount is the number of offending rows found, which may exceed
	// the rows listed in Offending.
	FailedCount int64 `json:"failed_rows"`
	// Truncated means Offending does not list every offending row, or not
	// every row in scope was checked.
	Truncated   bool      `json:"truncated,omitempty"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	Error       string    `json:"error,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func (o Outcome) FailedRows() int64 {
	if o.Status != storage.RunCompleted {
		return 0
	}
	if n := int64(len(o.Offending)); n > o.FailedCount {
		return n
	}
	return o.FailedCount
}

// Payload is the document stored in rule_results.result.
type Payload struct {
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	CheckedRows int64     `json:"checked_rows"`
	FailedRows  int64     `json:"failed_rows"`
	Errors      []string  `json:"errors"`
	Truncated   bool      `json:"truncated,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

type Store interface {
	InsertRun(ctx context.Context, run storage.RunRecord) error
	CompleteRun(ctx context.Context, c storage.Completion) (bool, error)
	ExpireOpenRuns(ctx context.Context, cutoff, now time.Time) ([]storage.RunRecord, error)
	InsertResult(ctx context.Context, res storage.ResultRecord) error
	GetResult(ctx context.Context, runID string) (storage.ResultRecord, error)
}

type Run struct {
	ID     string    `json:"id"`
	RuleID string    `json:"rule_id"`
	Start  time.Time `json:"start"`
}

type Recorder struct {
	store          Store
	closeOnAbsence bool
	logger         *slog.Logger
	now            func() time.Time
}

func New(store Store, closeOnAbsence bool, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, closeOnAbsence: closeOnAbsence, logger: logger, now: time.Now}
}

// Begin opens a run for ruleID. It fails with ErrRunInFlight when the rule
// already has one.
func (r *Recorder) Begin(ctx context.Context, ruleID string, start time.Time) (Run, error) {
	run := Run{ID: uuid.NewString(), RuleID: ruleID, Start: start.UTC()}
	if err := r.store.InsertRun(ctx, storage.RunRecord{ID: run.ID, RuleID: ruleID, StartTime: run.Start}); err != nil {
		if errors.Is(err, storage.ErrRunInFlight) {
			return Run{}, ErrRunInFlight
		}
		return Run{}, fmt.Errorf("begin run for rule %s: %w", ruleID, err)
	}
	return run, nil
}

// Record completes run with outcome. Recording an already completed run is a
// no-op.
func (r *Recorder) Record(ctx context.Context, run Run, rule rules.Rule, outcome Outcome) error {
	end := outcome.End.UTC()
	if end.IsZero() || end.Before(run.Start) {
		end = r.now().UTC()
	}
	status := outcome.Status
	switch status {
	case storage.RunCompleted, storage.RunError, storage.RunTimeout:
	default:
		status = storage.RunError
	}
	duration := end.Sub(run.Start).Milliseconds()
	payload := Payload{
		Timestamp:   end,
		Status:      PayloadSuccess,
		CheckedRows: outcome.CheckedRows,
		FailedRows:  outcome.FailedRows(),
		Errors:      []string{},
		DurationMS:  duration,
	}
	if status == storage.RunCompleted {
		payload.Truncated = outcome.Truncated
		payload.Errors = append(payload.Errors, outcome.Diagnostics...)
	} else {
		payload.Status = PayloadFailure
		payload.FailedRows = 0
		msg := outcome.Error
		if msg == "" {
			msg = status
		}
		payload.Errors = append(payload.Errors, msg)
	}
	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode result payload: %w", err)
	}

	completion := storage.Completion{
		Run: storage.RunRecord{
			ID:          run.ID,
			RuleID:      run.RuleID,
			StartTime:   run.Start,
			EndTime:     &end,
			DurationMS:  duration,
			CheckedRows: outcome.CheckedRows,
			FailedRows:  payload.FailedRows,
			Status:      status,
		},
		Result: storage.ResultRecord{ID: uuid.NewString(), RuleID: run.RuleID, RunID: run.ID, DetectedAt: end, Result: doc},
	}
	if status == storage.RunCompleted {
		severity := rule.Severity
		if !severity.Valid() {
			severity = rules.SeverityLow
		}
		seen := make(map[string]struct{}, len(outcome.Offending))
		keys := make([]string, 0, len(outcome.Offending))
		for _, row := range outcome.Offending {
			if _, ok := seen[row.Key]; ok {
				continue
			}
			seen[row.Key] = struct{}{}
			keys = append(keys, row.Key)
			completion.Violations = append(completion.Violations, storage.ViolationRecord{
				ID:         uuid.NewString(),
				RuleID:     run.RuleID,
				RunID:      run.ID,
				Severity:   string(severity),
				TableName:  rule.TableName,
				ColumnName: rule.ColumnName,
				RowKey:     row.Key,
				Value:      row.Value,
				DetectedAt: end,
				Status:     storage.ViolationOpen,
			})
		}
		// A partial listing cannot prove a row stopped offending.
		completion.CloseAbsent = r.closeOnAbsence && !outcome.Truncated
		completion.ReportedKeys = keys
		if r.closeOnAbsence && outcome.Truncated {
			r.logger.Warn("offending rows truncated, absent violations left open",
				slog.String("rule_id", run.RuleID),
				slog.Int("reported", len(keys)),
				slog.Int64("failed_rows", payload.FailedRows))
		}
	}

	done, err := r.store.CompleteRun(ctx, completion)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	if !done {
		r.logger.Info("run already completed", slog.String("run_id", run.ID), slog.String("rule_id", run.RuleID))
		return nil
	}
	metrics.RuleRunsTotal.WithLabelValues(status).Inc()
	metrics.RuleDuration.WithLabelValues(status).Observe(float64(duration) / 1000)
	metrics.ViolationsOpened.Add(float64(len(completion.Violations)))
	return nil
}

// ExpireStale marks runs left open since before cutoff as timed out and stores
// a failure payload for each.
func (r *Recorder) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	now := r.now().UTC()
	expired, err := r.store.ExpireOpenRuns(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	for _, run := range expired {
		doc, _ := json.Marshal(Payload{
			Timestamp:  now,
			Status:     PayloadFailure,
			Errors:     []string{"timeout"},
			DurationMS: run.DurationMS,
		})
		if err := r.store.InsertResult(ctx, storage.ResultRecord{ID: uuid.NewString(), RuleID: run.RuleID, RunID: run.ID, DetectedAt: now, Result: doc}); err != nil {
			r.logger.Error("failed to store timeout result", slog.String("run_id", run.ID), slog.String("error", err.Error()))
			continue
		}
		r.logger.Warn("expired stale run", slog.String("run_id", run.ID), slog.String("rule_id", run.RuleID))
	}
	metrics.ExpiredRunsTotal.Add(float64(len(expired)))
	return len(expired), nil
}

// Result reads back the payload stored for runID.
func (r *Recorder) Result(ctx context.Context, runID string) (Payload, error) {
	rec, err := r.store.GetResult(ctx, runID)
	if err != nil {
		return Payload{}, err
	}
	var payload Payload
	if err := json.Unmarshal(rec.Result, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode result payload: %w", err)
	}
	return payload, nil
}
