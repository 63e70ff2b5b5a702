package storage

import (
	"time"

	"github.com/thiwi/valiax/internal/rules"
)

const (
	RunCompleted = "completed"
	RunError     = "error"
	RunTimeout   = "timeout"

	ViolationOpen   = "open"
	ViolationClosed = "closed"
)

// Candidate is an active rule with the bookkeeping the due-set needs.
type Candidate struct {
	Rule            rules.Rule
	ConnectionFound bool
	LastRunStart    *time.Time
	HasOpenRun      bool
}

type RunRecord struct {
	ID          string
	RuleID      string
	StartTime   time.Time
	EndTime     *time.Time
	DurationMS  int64
	CheckedRows int64
	FailedRows  int64
	Status      string
}

type ResultRecord struct {
	ID         string
	RuleID     string
	RunID      string
	DetectedAt time.Time
	Result     []byte
}

type ViolationRecord struct {
	ID         string
	RuleID     string
	RunID      string
	Severity   string
	TableName  string
	ColumnName string
	RowKey     string
	Value      *string
	DetectedAt time.Time
	Status     string
	ClosedAt   *time.Time
}

// Completion is everything written when a run finishes.
type Completion struct {
	Run        RunRecord
	Result     ResultRecord
	Violations []ViolationRecord
	// CloseAbsent closes open violations of the rule whose key is not in
	// ReportedKeys.
	CloseAbsent  bool
	ReportedKeys []string
}
