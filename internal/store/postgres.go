package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL -- the durable alternative
// to RedisStore when an investigation's task history needs to survive a
// full cache loss. Task records carry their own expires_at column and a
// background sweep (see SweepExpired) drops rows past retention, since
// Postgres has no native per-row TTL the way Redis does.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and ensures the tasks table
// exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Put(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("postgres store: marshal task: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, payload, version, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			version = tasks.version + 1,
			updated_at = now()
	`, task.ID, payload, task.Version)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, taskID string) (*Task, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM tasks WHERE id = $1`, taskID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal task: %w", err)
	}
	return &task, nil
}

// Mutate runs fn inside a serializable transaction so the read and write
// are atomic with respect to other mutators on the same row.
func (s *PostgresStore) Mutate(ctx context.Context, taskID string, fn MutateFunc) (*Task, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var payload []byte
	var version int64
	err = tx.QueryRow(ctx, `SELECT payload, version FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&payload, &version)
	var current *Task
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		current = &Task{}
		if err := json.Unmarshal(payload, current); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal task: %w", err)
		}
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID); err != nil {
			return nil, err
		}
		return nil, tx.Commit(ctx)
	}

	next.Version = version + 1
	newPayload, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("postgres store: marshal task: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (id, payload, version, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, version = EXCLUDED.version, updated_at = now()
	`, taskID, newPayload, next.Version)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	return err
}

// SetTTL unwraps the task-record key back to the raw task id: unlike
// RedisStore and MemoryStore, which key their backing maps on the full
// "dossie:task:<id>" string, the tasks table is keyed on the bare id.
func (s *PostgresStore) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	taskID := strings.TrimPrefix(key, TaskKey(""))
	_, err := s.pool.Exec(ctx, `UPDATE tasks SET expires_at = $2 WHERE id = $1`, taskID, time.Now().Add(ttl))
	return err
}

// SweepExpired deletes rows past their expires_at, standing in for Redis's
// native TTL. Intended to be called from a ticking background goroutine,
// matching the retry pump's cadence (see internal/retry).
func (s *PostgresStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
