// Package postgres implements the hot store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.HotStore backed by a PostgreSQL database.
type Store struct {
	db *sql.DB
}

// Compile-time checks.
var (
	_ store.HotStore   = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, store.Unavailable("ping database", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, event *model.Event) error {
	return queryAppendEvent(ctx, s.db, event)
}

func (s *Store) ListOldest(ctx context.Context, after *model.Position, limit int) ([]*model.Event, error) {
	return queryListOldest(ctx, s.db, after, limit)
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	return queryDeleteByIDs(ctx, s.db, ids)
}

func (s *Store) FindByStreams(ctx context.Context, streamIDs []string, lte *time.Time) ([]*model.Event, error) {
	return queryFindByStreams(ctx, s.db, streamIDs, lte)
}

func (s *Store) ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return queryListStreamIDs(ctx, s.db, after, limit)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.HotStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

// txStore implements store.HotStore using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

var _ store.HotStore = (*txStore)(nil)

func (s *txStore) Append(ctx context.Context, event *model.Event) error {
	return queryAppendEvent(ctx, s.tx, event)
}

func (s *txStore) ListOldest(ctx context.Context, after *model.Position, limit int) ([]*model.Event, error) {
	return queryListOldest(ctx, s.tx, after, limit)
}

func (s *txStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	return queryDeleteByIDs(ctx, s.tx, ids)
}

func (s *txStore) FindByStreams(ctx context.Context, streamIDs []string, lte *time.Time) ([]*model.Event, error) {
	return queryFindByStreams(ctx, s.tx, streamIDs, lte)
}

func (s *txStore) ListStreamIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return queryListStreamIDs(ctx, s.tx, after, limit)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
