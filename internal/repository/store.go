package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/store"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the pool surface PGStore needs. *pgxpool.Pool implements it.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PGStore implements store.Store on PostgreSQL. Inside WithTx the callback
// receives a PGStore bound to the open pgx.Tx.
type PGStore struct {
	db DB
	q  querier
	tx pgx.Tx
}

var _ store.Store = (*PGStore)(nil)

func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db, q: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PGStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperr.Internal(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(&PGStore{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(err, "commit tx")
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// TxFrom returns the pgx transaction behind a Store handed to a WithTx
// callback, so jobs can be enqueued in the same transaction.
func TxFrom(s store.Store) (pgx.Tx, bool) {
	pg, ok := s.(*PGStore)
	if !ok || pg.tx == nil {
		return nil, false
	}
	return pg.tx, true
}

// mapPgErr classifies driver errors. what names the entity for messages.
func mapPgErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.Wrap(apperr.KindConflict, err, what+" already exists")
		case "23503": // foreign_key_violation
			return apperr.Wrap(apperr.KindNotFound, err, "referenced task not found")
		case "23514": // check_violation
			return apperr.Wrap(apperr.KindInvalidArgument, err, what+" violates a constraint")
		}
	}
	return apperr.Internal(err, what)
}

// where accumulates numbered predicates.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	out := " WHERE " + w.clauses[0]
	for _, c := range w.clauses[1:] {
		out += " AND " + c
	}
	return out
}
