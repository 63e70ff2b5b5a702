package connections

import (
	"context"
	"fmt"
	"strings"

	dbconnector "github.com/thiwi/valiax"
	"github.com/thiwi/valiax/internal/rules"
)

// Resolver turns a stored connection id into a connector configuration.
type Resolver interface {
	Resolve(ctx context.Context, connectionID string) (dbconnector.ConnectionConfig, error)
}

type Store interface {
	GetConnection(ctx context.Context, id string) (rules.Connection, error)
}

type resolver struct {
	store Store
}

func NewResolver(store Store) Resolver {
	return &resolver{store: store}
}

func (r *resolver) Resolve(ctx context.Context, connectionID string) (dbconnector.ConnectionConfig, error) {
	if strings.TrimSpace(connectionID) == "" {
		return dbconnector.ConnectionConfig{}, ErrInvalidInput
	}
	if r.store == nil {
		return dbconnector.ConnectionConfig{}, ErrNotConfigured
	}
	conn, err := r.store.GetConnection(ctx, connectionID)
	if err != nil {
		return dbconnector.ConnectionConfig{}, err
	}
	cfg, err := dbconnector.ParseConnectionString(conn.Type, conn.ConnectionString)
	if err != nil {
		return dbconnector.ConnectionConfig{}, fmt.Errorf("connection %s: %w", connectionID, err)
	}
	return cfg, nil
}
