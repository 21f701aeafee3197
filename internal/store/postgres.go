package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Schema creates the positions and tracker_totals tables. Applied by
// OpenPostgres. tracker_totals holds a single row with id 1.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	token      TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	opened_at  TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	snapshot   JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS tracker_totals (
	id         SMALLINT PRIMARY KEY CHECK (id = 1),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	totals     JSONB NOT NULL
)`

// PostgresStore keeps snapshots in the positions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and applies Schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Info().Str("host", config.ConnConfig.Host).Msg("store: postgres connected")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO positions (token, status, opened_at, updated_at, snapshot)
		VALUES ($1, $2, $3, now(), $4)
		ON CONFLICT (token) DO UPDATE
		SET status = EXCLUDED.status, updated_at = now(), snapshot = EXCLUDED.snapshot
	`, snap.Token, snap.Status, snap.OpenedAt, body)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT snapshot FROM positions ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal position: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveTotals(ctx context.Context, t Totals) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracker_totals (id, updated_at, totals)
		VALUES (1, now(), $1)
		ON CONFLICT (id) DO UPDATE
		SET updated_at = now(), totals = EXCLUDED.totals
	`, body)
	if err != nil {
		return fmt.Errorf("upsert totals: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadTotals(ctx context.Context) (Totals, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT totals FROM tracker_totals WHERE id = 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Totals{}, false, nil
	}
	if err != nil {
		return Totals{}, false, fmt.Errorf("query totals: %w", err)
	}
	var t Totals
	if err := json.Unmarshal(body, &t); err != nil {
		return Totals{}, false, fmt.Errorf("unmarshal totals: %w", err)
	}
	return t, true, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
