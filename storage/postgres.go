// Package storage provides a durable server.Log backed by Postgres.
// Cookies survive a restart if and only if the log itself does.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tanishqkancharla/sync-kv/server"
	"github.com/tanishqkancharla/sync-kv/synckv"
)

// schema: one row per log entry. seq orders the rows in append order;
// a patch's index in the log is its position in that order, not its
// seq value, so Version is "select count" and Since skips the first
// cookie rows with OFFSET.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS synckv_patches (
	seq   BIGSERIAL PRIMARY KEY,
	patch JSONB NOT NULL
);
`

// PostgresLog implements server.Log against a synckv_patches table.
// Reads and writes both go straight to Postgres; there is no
// in-process cache, trading latency for simplicity.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog opens (and migrates, via schemaDDL) a PostgresLog
// against pool.
func NewPostgresLog(ctx context.Context, pool *pgxpool.Pool) (*PostgresLog, error) {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

func (l *PostgresLog) Append(patch synckv.Patch) int {
	data, err := json.Marshal(patch)
	if err != nil {
		panic(fmt.Sprintf("storage: patch not JSON-serializable: %v", err))
	}
	ctx := context.Background()
	if _, err := l.pool.Exec(ctx, `INSERT INTO synckv_patches (patch) VALUES ($1)`, data); err != nil {
		panic(fmt.Sprintf("storage: append failed: %v", err))
	}
	return l.Version()
}

func (l *PostgresLog) Version() int {
	var count int
	row := l.pool.QueryRow(context.Background(), `SELECT count(*) FROM synckv_patches`)
	if err := row.Scan(&count); err != nil {
		panic(fmt.Sprintf("storage: version query failed: %v", err))
	}
	return count
}

func (l *PostgresLog) Since(cookie synckv.Cookie) []synckv.Patch {
	rows, err := l.pool.Query(
		context.Background(),
		`SELECT patch FROM synckv_patches ORDER BY seq OFFSET $1`,
		cookie,
	)
	if err != nil {
		panic(fmt.Sprintf("storage: since query failed: %v", err))
	}
	defer rows.Close()

	var patches []synckv.Patch
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			panic(fmt.Sprintf("storage: scan failed: %v", err))
		}
		var patch synckv.Patch
		if err := json.Unmarshal(raw, &patch); err != nil {
			panic(fmt.Sprintf("storage: decode failed: %v", err))
		}
		patches = append(patches, patch)
	}
	return patches
}

func (l *PostgresLog) Newest(key synckv.Key) (synckv.Value, bool) {
	rows, err := l.pool.Query(
		context.Background(),
		`SELECT patch FROM synckv_patches WHERE patch ? $1 ORDER BY seq DESC LIMIT 1`,
		key,
	)
	if err != nil {
		panic(fmt.Sprintf("storage: newest query failed: %v", err))
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false
	}
	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		panic(fmt.Sprintf("storage: scan failed: %v", err))
	}
	var patch synckv.Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		panic(fmt.Sprintf("storage: decode failed: %v", err))
	}
	v, ok := patch[key]
	return v, ok
}

var _ server.Log = (*PostgresLog)(nil)
