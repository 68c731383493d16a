// Package store is the relational metadata layer. It exposes one narrow
// repository per entity, all sharing a pgx connection pool, plus goose-driven
// schema migrations. Chunk embeddings live in a pgvector column with an HNSW
// cosine index; everything that crosses entities in one logical step runs in
// a single transaction via InTx.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by repository getters when no row matches.
var ErrNotFound = errors.New("not found")

// DB bundles the connection pool and the per-entity repositories.
type DB struct {
	Pool *pgxpool.Pool

	MediaFiles     *MediaFileRepo
	Transcriptions *TranscriptionRepo
	Chunks         *ChunkRepo
	Topics         *TopicRepo
	Collections    *CollectionRepo
	Jobs           *JobRepo
}

// Open connects to Postgres and registers the pgvector codec on every
// connection. It does not run migrations; call Migrate separately so worker
// startup can control ordering.
func Open(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	db := &DB{Pool: pool}
	db.MediaFiles = &MediaFileRepo{db: db}
	db.Transcriptions = &TranscriptionRepo{db: db}
	db.Chunks = &ChunkRepo{db: db}
	db.Topics = &TopicRepo{db: db}
	db.Collections = &CollectionRepo{db: db}
	db.Jobs = &JobRepo{db: db}
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() { db.Pool.Close() }

// Migrate applies pending schema migrations. Goose drives a database/sql
// handle layered over the same pgx driver.
func Migrate(dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// InTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (db *DB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier abstracts pgx.Tx and *pgxpool.Pool so repository methods can run
// standalone or inside a caller-managed transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
