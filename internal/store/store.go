// Package store owns the SQLite connection pool and the transaction and
// savepoint primitives every collection handle executes against. It knows
// nothing about documents, queries, or updates — those live in package
// collection — but it is the only package that opens a database/sql handle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arkiliandb/docstore/internal/config"
	"github.com/arkiliandb/docstore/internal/idgen"
	"github.com/arkiliandb/docstore/internal/sqlident"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// Conn is the subset of *sql.DB/*sql.Tx the collection orchestrator needs
// to run a statement. Store hands out a Conn bound to either the write
// connection, a transaction, or a pooled reader, depending on context.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store holds the dual connection pool described in §4.8: a single write
// connection (SQLite allows one writer at a time regardless of WAL mode)
// and a pooled set of read connections for concurrent Find/Count calls.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	cfg     *config.Config
}

// Open creates (or attaches to) the SQLite file named by cfg and returns a
// ready Store. Both connections share the same file; the write connection
// is capped to one open connection so SQLite's single-writer rule is
// enforced by the pool rather than by a Go-level mutex.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d",
		cfg.DBFile, cfg.JournalMode, cfg.BusyTimeout.Milliseconds())

	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, docerrors.Backend(docerrors.CodeDriverFailure, "failed to open write connection", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dsn+"&mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, docerrors.Backend(docerrors.CodeDriverFailure, "failed to open read connection pool", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{writeDB: writeDB, readDB: readDB, cfg: cfg}

	if err := s.bootstrapMetadataTable(ctx); err != nil {
		readDB.Close()
		writeDB.Close()
		return nil, err
	}

	return s, nil
}

// Close releases both connection pools. Writers in progress are not
// interrupted; callers should have stopped issuing new operations first.
func (s *Store) Close() error {
	readErr := s.readDB.Close()
	writeErr := s.writeDB.Close()
	if writeErr != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to close write connection", writeErr)
	}
	if readErr != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to close read connection pool", readErr)
	}
	return nil
}

// Reader returns a Conn bound to the pooled read connections, for
// operations (Find, FindOne, Count) that never need a transaction of their
// own. Callers inside an active WithinTransaction should prefer the Conn
// passed to their callback, which sees uncommitted writes from the same
// transaction.
func (s *Store) Reader() Conn {
	return s.readDB
}

// EnsureCollectionTable idempotently creates the backing table for a user
// collection. The document column stores the full JSON body; _id is kept
// as a native TEXT primary key so lookups by identifier never touch
// json_extract. When ctx carries an open WithinTransaction transaction, the
// DDL runs on that transaction instead of asking the single-connection
// write pool for a second connection.
func (s *Store) EnsureCollectionTable(ctx context.Context, name string) error {
	table, err := sqlident.QuoteValidated(name)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    _id      TEXT PRIMARY KEY,
    document TEXT NOT NULL
) WITHOUT ROWID`, table)
	var conn Conn = s.writeDB
	if outer, ok := ctx.Value(txStateKey{}).(*txState); ok {
		conn = outer.tx
	}
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to create collection table", err).WithDetails(name)
	}
	return nil
}

const metadataCollection = "_metadata"

func (s *Store) bootstrapMetadataTable(ctx context.Context) error {
	return s.EnsureCollectionTable(ctx, metadataCollection)
}

// txStateKey is the context key under which an in-flight transaction's
// state is threaded through nested WithinTransaction calls.
type txStateKey struct{}

type txState struct {
	tx *sql.Tx
}

// WithinTransaction runs fn with a Conn bound to a transaction. If ctx
// already carries an open transaction (because a caller further up the
// call stack is itself inside WithinTransaction — the recursive Update
// calling Insert calling Update path described in §4.5), fn instead runs
// inside a SAVEPOINT on that same transaction, named with a fresh opaque
// id from the Identifier Generator, so a nested failure only unwinds its
// own savepoint rather than the entire outer transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, c Conn) error) error {
	if outer, ok := ctx.Value(txStateKey{}).(*txState); ok {
		return s.withSavepoint(ctx, outer.tx, fn)
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to begin transaction", err)
	}

	nested := context.WithValue(ctx, txStateKey{}, &txState{tx: tx})
	if err := fn(nested, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to commit transaction", err)
	}
	return nil
}

func (s *Store) withSavepoint(ctx context.Context, tx *sql.Tx, fn func(ctx context.Context, c Conn) error) error {
	name := sqlident.Quote("sp_" + idgen.New())

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to create savepoint", err)
	}

	if err := fn(ctx, tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return docerrors.Backend(docerrors.CodeDriverFailure, "failed to roll back savepoint", rbErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return docerrors.Backend(docerrors.CodeDriverFailure, "failed to release savepoint", err)
	}
	return nil
}
