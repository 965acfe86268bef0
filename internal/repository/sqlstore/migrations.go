package sqlstore

import (
	"context"
	"fmt"

	"helpboard-backend/internal/logger"
)

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

func (s *Store) migrations() []migration {
	if s.dialect == DialectPostgres {
		return postgresMigrations
	}
	return sqliteMigrations
}

// migrate applies outstanding migrations in order, each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range s.migrations() {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.Info("Applied schema migration", "dialect", s.dialect, "version", m.version)
	}
	return nil
}

var postgresMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS profiles (
	id           BIGINT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	push_token   TEXT NOT NULL DEFAULT '',
	actor_type   TEXT NOT NULL DEFAULT 'individual',
	is_moderator BOOLEAN NOT NULL DEFAULT FALSE,
	trust_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS communities (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	privacy      TEXT NOT NULL,
	status       TEXT NOT NULL,
	verified     BOOLEAN NOT NULL DEFAULT FALSE,
	creator_id   BIGINT NOT NULL,
	member_count INTEGER NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS community_memberships (
	id           BIGSERIAL PRIMARY KEY,
	community_id BIGINT NOT NULL REFERENCES communities(id),
	user_id      BIGINT NOT NULL,
	role         TEXT NOT NULL,
	status       TEXT NOT NULL,
	joined_at    TIMESTAMPTZ,
	version      BIGINT NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (community_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_user ON community_memberships(user_id);

CREATE TABLE IF NOT EXISTS community_approvals (
	id           BIGSERIAL PRIMARY KEY,
	community_id BIGINT NOT NULL REFERENCES communities(id),
	requested_by BIGINT NOT NULL,
	status       TEXT NOT NULL,
	reviewer_id  BIGINT,
	note         TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	reviewed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS help_requests (
	id              BIGSERIAL PRIMARY KEY,
	owner_id        BIGINT NOT NULL,
	scope           TEXT NOT NULL,
	community_id    BIGINT REFERENCES communities(id),
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL,
	urgency         TEXT NOT NULL,
	amount_cents    BIGINT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	supporter_count INTEGER NOT NULL DEFAULT 0,
	version         BIGINT NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_requests_owner ON help_requests(owner_id);
CREATE INDEX IF NOT EXISTS idx_requests_browse ON help_requests(status, scope, created_at);

CREATE TABLE IF NOT EXISTS help_offers (
	id           BIGSERIAL PRIMARY KEY,
	request_id   BIGINT NOT NULL REFERENCES help_requests(id),
	helper_id    BIGINT NOT NULL,
	requester_id BIGINT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	report_count INTEGER NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (request_id, helper_id)
);
CREATE INDEX IF NOT EXISTS idx_offers_helper ON help_offers(helper_id);

CREATE TABLE IF NOT EXISTS offer_reports (
	offer_id    BIGINT NOT NULL REFERENCES help_offers(id),
	reporter_id BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (offer_id, reporter_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id                BIGSERIAL PRIMARY KEY,
	recipient_id      BIGINT NOT NULL,
	actor_id          BIGINT,
	actor_name        TEXT NOT NULL DEFAULT '',
	type              TEXT NOT NULL,
	request_id        BIGINT,
	offer_id          BIGINT,
	community_id      BIGINT,
	title             TEXT NOT NULL,
	message           TEXT NOT NULL DEFAULT '',
	attributes        JSONB NOT NULL DEFAULT '{}',
	is_read           BOOLEAN NOT NULL DEFAULT FALSE,
	dedup_key         TEXT NOT NULL UNIQUE,
	delivery_status   TEXT NOT NULL DEFAULT 'pending',
	delivery_attempts INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	read_at           TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);

CREATE TABLE IF NOT EXISTS change_log (
	seq          BIGSERIAL PRIMARY KEY,
	entity_table TEXT NOT NULL,
	entity_id    BIGINT NOT NULL,
	event_type   TEXT NOT NULL,
	transition   TEXT NOT NULL DEFAULT '',
	actor_id     BIGINT NOT NULL DEFAULT 0,
	payload      JSONB NOT NULL,
	previous     JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_log_created ON change_log(created_at);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	actor_id     BIGINT NOT NULL,
	idem_key     TEXT NOT NULL,
	operation    TEXT NOT NULL,
	entity_table TEXT NOT NULL,
	entity_id    BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (actor_id, idem_key)
);
`,
	},
}

var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS profiles (
	id           INTEGER PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	push_token   TEXT NOT NULL DEFAULT '',
	actor_type   TEXT NOT NULL DEFAULT 'individual',
	is_moderator BOOLEAN NOT NULL DEFAULT 0,
	trust_score  REAL NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS communities (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	privacy      TEXT NOT NULL,
	status       TEXT NOT NULL,
	verified     BOOLEAN NOT NULL DEFAULT 0,
	creator_id   INTEGER NOT NULL,
	member_count INTEGER NOT NULL DEFAULT 0,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS community_memberships (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	community_id INTEGER NOT NULL REFERENCES communities(id),
	user_id      INTEGER NOT NULL,
	role         TEXT NOT NULL,
	status       TEXT NOT NULL,
	joined_at    DATETIME,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (community_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_user ON community_memberships(user_id);

CREATE TABLE IF NOT EXISTS community_approvals (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	community_id INTEGER NOT NULL REFERENCES communities(id),
	requested_by INTEGER NOT NULL,
	status       TEXT NOT NULL,
	reviewer_id  INTEGER,
	note         TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	reviewed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS help_requests (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id        INTEGER NOT NULL,
	scope           TEXT NOT NULL,
	community_id    INTEGER REFERENCES communities(id),
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL,
	urgency         TEXT NOT NULL,
	amount_cents    INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	supporter_count INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	completed_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_requests_owner ON help_requests(owner_id);
CREATE INDEX IF NOT EXISTS idx_requests_browse ON help_requests(status, scope, created_at);

CREATE TABLE IF NOT EXISTS help_offers (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id   INTEGER NOT NULL REFERENCES help_requests(id),
	helper_id    INTEGER NOT NULL,
	requester_id INTEGER NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	report_count INTEGER NOT NULL DEFAULT 0,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (request_id, helper_id)
);
CREATE INDEX IF NOT EXISTS idx_offers_helper ON help_offers(helper_id);

CREATE TABLE IF NOT EXISTS offer_reports (
	offer_id    INTEGER NOT NULL REFERENCES help_offers(id),
	reporter_id INTEGER NOT NULL,
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (offer_id, reporter_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_id      INTEGER NOT NULL,
	actor_id          INTEGER,
	actor_name        TEXT NOT NULL DEFAULT '',
	type              TEXT NOT NULL,
	request_id        INTEGER,
	offer_id          INTEGER,
	community_id      INTEGER,
	title             TEXT NOT NULL,
	message           TEXT NOT NULL DEFAULT '',
	attributes        TEXT NOT NULL DEFAULT '{}',
	is_read           BOOLEAN NOT NULL DEFAULT 0,
	dedup_key         TEXT NOT NULL UNIQUE,
	delivery_status   TEXT NOT NULL DEFAULT 'pending',
	delivery_attempts INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	read_at           DATETIME
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);

CREATE TABLE IF NOT EXISTS change_log (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_table TEXT NOT NULL,
	entity_id    INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	transition   TEXT NOT NULL DEFAULT '',
	actor_id     INTEGER NOT NULL DEFAULT 0,
	payload      TEXT NOT NULL,
	previous     TEXT,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_log_created ON change_log(created_at);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	actor_id     INTEGER NOT NULL,
	idem_key     TEXT NOT NULL,
	operation    TEXT NOT NULL,
	entity_table TEXT NOT NULL,
	entity_id    INTEGER NOT NULL,
	created_at   DATETIME NOT NULL,
	PRIMARY KEY (actor_id, idem_key)
);
`,
	},
}
