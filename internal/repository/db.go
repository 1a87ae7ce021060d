package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the connection handle repositories operate on. Both *pgxpool.Pool and
// pgx.Tx satisfy it, so every method can run against the pool or inside an
// explicit transaction chosen by the caller.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner is a DB that can open a transaction. *pgxpool.Pool and pgx.Tx
// (via savepoints) both qualify.
type TxBeginner interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}
