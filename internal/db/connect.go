package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:eduflex.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/eduflex?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS lti_platforms (
  issuer TEXT PRIMARY KEY,
  client_id TEXT NOT NULL,
  auth_url TEXT NOT NULL,
  token_url TEXT NOT NULL,
  keyset_url TEXT NOT NULL DEFAULT '',
  deployment_id TEXT NOT NULL DEFAULT '',
  client_secret TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_launches (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  platform_issuer TEXT NOT NULL,
  user_sub TEXT NOT NULL,
  deployment_id TEXT NOT NULL DEFAULT '',
  resource_link_id TEXT NOT NULL DEFAULT '',
  target_link_uri TEXT NOT NULL DEFAULT '',
  course_id TEXT NOT NULL DEFAULT '',
  lineitem_url TEXT NOT NULL DEFAULT '',
  lineitems_url TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  UNIQUE (platform_issuer, user_sub, resource_link_id)
);

CREATE INDEX IF NOT EXISTS idx_lti_launches_user ON lti_launches(user_id, created_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS lti_platforms (
  issuer TEXT PRIMARY KEY,
  client_id TEXT NOT NULL,
  auth_url TEXT NOT NULL,
  token_url TEXT NOT NULL,
  keyset_url TEXT NOT NULL DEFAULT '',
  deployment_id TEXT NOT NULL DEFAULT '',
  client_secret TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_launches (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  platform_issuer TEXT NOT NULL,
  user_sub TEXT NOT NULL,
  deployment_id TEXT NOT NULL DEFAULT '',
  resource_link_id TEXT NOT NULL DEFAULT '',
  target_link_uri TEXT NOT NULL DEFAULT '',
  course_id TEXT NOT NULL DEFAULT '',
  lineitem_url TEXT NOT NULL DEFAULT '',
  lineitems_url TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  UNIQUE (platform_issuer, user_sub, resource_link_id)
);

CREATE INDEX IF NOT EXISTS idx_lti_launches_user ON lti_launches(user_id, created_at);
`
