package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thiwi/valiax/internal/rules"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

const ruleColumns = `r.id, r.db_connection_id, r.table_name, r.column_name, r.rule_name, r.rule_text, r.severity, COALESCE(r.description, ''), r.interval, r.active, r.created_at, r.updated_at`

func scanRule(row pgx.Row, extra ...any) (rules.Rule, error) {
	var rule rules.Rule
	var severity string
	dest := append([]any{&rule.ID, &rule.ConnectionID, &rule.TableName, &rule.ColumnName, &rule.Name, &rule.Text, &severity, &rule.Description, &rule.Interval, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return rules.Rule{}, err
	}
	rule.Severity = rules.Severity(severity)
	return rule, nil
}

// ListCandidates returns every active rule with its connection presence,
// latest run start and open run flag.
func (r *Repository) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+ruleColumns+`, c.id IS NOT NULL, lr.last_start, COALESCE(lr.open, false)
		FROM column_rules r
		LEFT JOIN db_connections c ON c.id = r.db_connection_id
		LEFT JOIN LATERAL (
			SELECT max(start_time) AS last_start, bool_or(end_time IS NULL) AS open
			FROM rule_runs WHERE rule_id = r.id
		) lr ON true
		WHERE r.active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	results := []Candidate{}
	for rows.Next() {
		var c Candidate
		rule, err := scanRule(rows, &c.ConnectionFound, &c.LastRunStart, &c.HasOpenRun)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		c.Rule = rule
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return results, nil
}

// LoadRules returns the requested rules that belong to connectionID.
func (r *Repository) LoadRules(ctx context.Context, connectionID string, ids []string) ([]rules.Rule, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM column_rules r
		WHERE r.db_connection_id = $1 AND r.id = ANY($2)`, connectionID, ids)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()
	results := []rules.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		results = append(results, rule)
	}
	return results, rows.Err()
}

// InsertRun opens a run. A second open run for the same rule violates
// rule_runs_one_open_idx and yields ErrRunInFlight.
func (r *Repository) InsertRun(ctx context.Context, run RunRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO rule_runs (id, rule_id, start_time) VALUES ($1,$2,$3)`,
		run.ID, run.RuleID, run.StartTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRunInFlight
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun writes a completion in one transaction. It returns false
// without writing anything if the run is no longer open.
func (r *Repository) CompleteRun(ctx context.Context, c Completion) (bool, error) {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE rule_runs SET end_time=$2, duration_ms=$3, checked_rows=$4, failed_rows=$5, status=$6
		WHERE id=$1 AND end_time IS NULL`,
		c.Run.ID, c.Run.EndTime, c.Run.DurationMS, c.Run.CheckedRows, c.Run.FailedRows, c.Run.Status)
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO rule_results (id, rule_id, run_id, detected_at, result) VALUES ($1,$2,$3,$4,$5)`,
		c.Result.ID, c.Result.RuleID, c.Result.RunID, c.Result.DetectedAt, c.Result.Result); err != nil {
		return false, fmt.Errorf("insert result: %w", err)
	}
	if len(c.Violations) > 0 {
		batch := &pgx.Batch{}
		for _, v := range c.Violations {
			batch.Queue(`
				INSERT INTO rule_violations (id, rule_id, run_id, severity, table_name, column_name, row_key, value, detected_at, status)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'open')
				ON CONFLICT (rule_id, row_key) WHERE status = 'open' DO NOTHING`,
				v.ID, v.RuleID, v.RunID, v.Severity, v.TableName, v.ColumnName, v.RowKey, v.Value, v.DetectedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("insert violations: %w", err)
		}
	}
	if c.CloseAbsent {
		keys := c.ReportedKeys
		if keys == nil {
			keys = []string{}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE rule_violations SET status='closed', value=NULL, closed_at=$3
			WHERE rule_id=$1 AND status='open' AND NOT (row_key = ANY($2))`,
			c.Run.RuleID, keys, c.Run.EndTime); err != nil {
			return false, fmt.Errorf("close violations: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ExpireOpenRuns marks runs still open since before cutoff as timed out.
func (r *Repository) ExpireOpenRuns(ctx context.Context, cutoff, now time.Time) ([]RunRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		UPDATE rule_runs
		SET end_time=$2, status='timeout',
		    duration_ms=(EXTRACT(EPOCH FROM ($2 - start_time)) * 1000)::bigint,
		    checked_rows=0, failed_rows=0
		WHERE end_time IS NULL AND start_time < $1
		RETURNING id, rule_id, start_time, duration_ms`, cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("expire runs: %w", err)
	}
	defer rows.Close()
	expired := []RunRecord{}
	for rows.Next() {
		rec := RunRecord{Status: RunTimeout, EndTime: &now}
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.StartTime, &rec.DurationMS); err != nil {
			return nil, err
		}
		expired = append(expired, rec)
	}
	return expired, rows.Err()
}

func (r *Repository) InsertResult(ctx context.Context, res ResultRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO rule_results (id, rule_id, run_id, detected_at, result) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (run_id) DO NOTHING`,
		res.ID, res.RuleID, res.RunID, res.DetectedAt, res.Result)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (r *Repository) GetResult(ctx context.Context, runID string) (ResultRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, rule_id, run_id, detected_at, result FROM rule_results WHERE run_id=$1`, runID)
	var rec ResultRecord
	if err := row.Scan(&rec.ID, &rec.RuleID, &rec.RunID, &rec.DetectedAt, &rec.Result); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResultRecord{}, ErrNotFound
		}
		return ResultRecord{}, err
	}
	return rec, nil
}

func (r *Repository) ListOpenViolations(ctx context.Context, ruleID string) ([]ViolationRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, rule_id, run_id, severity, table_name, column_name, row_key, value, detected_at, status, closed_at
		FROM rule_violations WHERE rule_id=$1 AND status='open' ORDER BY row_key`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()
	results := []ViolationRecord{}
	for rows.Next() {
		var v ViolationRecord
		if err := rows.Scan(&v.ID, &v.RuleID, &v.RunID, &v.Severity, &v.TableName, &v.ColumnName, &v.RowKey, &v.Value, &v.DetectedAt, &v.Status, &v.ClosedAt); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

// CreateConnection stores a connection whose connection string is already
// encrypted.
func (r *Repository) CreateConnection(ctx context.Context, name, connType, encrypted string) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO db_connections (id, name, type, connection_string, created_at)
		VALUES ($1,$2,$3,$4,now())`,
		id, name, connType, encrypted,
	)
	if err != nil {
		return "", fmt.Errorf("insert connection: %w", err)
	}
	return id, nil
}
