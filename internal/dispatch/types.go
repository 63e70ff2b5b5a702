package dispatch

import (
	"context"
	"errors"
)

// Request asks a runner to evaluate rules of one connection.
type Request struct {
	DBConnID string   `json:"db_conn_id" validate:"required,uuid"`
	RuleIDs  []string `json:"rule_ids" validate:"required,min=1,dive,uuid"`
}

// Ack is the runner's receipt. Deferred rules already had a run in flight.
// Rejected ids are not rules of the requested connection.
type Ack struct {
	Accepted []string `json:"accepted"`
	Deferred []string `json:"deferred"`
	Rejected []string `json:"rejected,omitempty"`
}

// Reply is the NATS response envelope.
type Reply struct {
	Ack
	Error string `json:"error,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Ack, error)
	Name() string
}

var ErrRejected = errors.New("runner rejected dispatch")
