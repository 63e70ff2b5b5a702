package connections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thiwi/valiax/internal/crypto"
	"github.com/thiwi/valiax/internal/rules"
)

type PostgresStore struct {
	pool      *pgxpool.Pool
	encryptor crypto.Encryptor
}

func NewPostgresStore(pool *pgxpool.Pool, encryptor crypto.Encryptor) *PostgresStore {
	return &PostgresStore{pool: pool, encryptor: encryptor}
}

func (s *PostgresStore) GetConnection(ctx context.Context, id string) (rules.Connection, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, type, connection_string, created_at FROM db_connections WHERE id=$1`, id)
	var conn rules.Connection
	var encrypted string
	if err := row.Scan(&conn.ID, &conn.Name, &conn.Type, &encrypted, &conn.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.Connection{}, ErrNotFound
		}
		return rules.Connection{}, err
	}
	plain, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return rules.Connection{}, fmt.Errorf("decrypt connection %s: %w", id, err)
	}
	conn.ConnectionString = plain
	return conn, nil
}
