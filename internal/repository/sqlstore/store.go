// Package sqlstore implements the repositories on top of sqlx for the
// postgres (lib/pq) and sqlite (modernc) drivers.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the sqlx-backed repository.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	repos
}

var _ repository.Store = (*Store)(nil)

// Open connects to driver ("postgres" or "sqlite") and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch Dialect(driver) {
	case DialectPostgres:
		return OpenPostgres(ctx, dsn)
	case DialectSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres db: %w", err)
	}
	s := New(db, DialectPostgres)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// OpenSQLite opens the database at path (":memory:" for a private in-memory
// database). The pool is pinned to one connection, so callers must never
// touch the Store from inside WithTx.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := New(db, DialectSQLite)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// New wraps an open connection without running migrations.
func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		repos:   repos{q: db, dialect: dialect},
	}
}

func (s *Store) DB() *sqlx.DB     { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) Close() error     { return s.db.Close() }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(repos{q: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		logger.Error("Transaction commit failed", "error", err)
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) ReadSnapshot(ctx context.Context, fn func(r repository.Repositories) error) (int64, error) {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer tx.Rollback()

	r := repos{q: tx, dialect: s.dialect}
	// The first statement pins the snapshot; the sequence read here is the
	// newest change the rest of fn can observe.
	seq, err := r.ChangeLog().MaxSeq(ctx)
	if err != nil {
		return 0, err
	}
	if err := fn(r); err != nil {
		return 0, err
	}
	return seq, tx.Commit()
}

// repos binds every repository to one sqlx handle, either the pool or a tx.
type repos struct {
	q       sqlx.ExtContext
	dialect Dialect
}

func (r repos) Requests() repository.RequestRepository { return &requestRepository{q: r.q} }
func (r repos) Offers() repository.OfferRepository     { return &offerRepository{q: r.q} }
func (r repos) Communities() repository.CommunityRepository {
	return &communityRepository{q: r.q}
}
func (r repos) Memberships() repository.MembershipRepository {
	return &membershipRepository{q: r.q}
}
func (r repos) Approvals() repository.ApprovalRepository { return &approvalRepository{q: r.q} }
func (r repos) Notifications() repository.NotificationRepository {
	return &notificationRepository{q: r.q}
}
func (r repos) Profiles() repository.ProfileRepository { return &profileRepository{q: r.q} }
func (r repos) ChangeLog() repository.ChangeLogRepository {
	return &changeLogRepository{q: r.q, dialect: r.dialect}
}
func (r repos) Idempotency() repository.IdempotencyRepository {
	return &idempotencyRepository{q: r.q}
}
