// Package sql implements storage.Repository on top of database/sql plus
// Masterminds/squirrel: one file per concern, squirrel for query
// building, sqlmock-backed constructors for tests.
package sql

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/waddle-social/waddle/config"
)

// ErrBackendNotSupported is returned by New for an unrecognized backend
// name in config.StorageConfig.Backend.
var ErrBackendNotSupported = errors.New("sql: unsupported storage backend")

// Storage is the concrete storage.Repository implementation.
type Storage struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// New opens a connection pool for cfg.Backend/cfg.DSN and wraps it with
// the placeholder format (squirrel's sq.Dollar for postgres, sq.Question
// for mysql/sqlite3) each driver expects.
func New(cfg config.StorageConfig) (*Storage, error) {
	var driverName string
	var placeholder sq.PlaceholderFormat = sq.Question
	switch cfg.Backend {
	case "mysql":
		driverName = "mysql"
	case "postgres":
		driverName = "postgres"
		placeholder = sq.Dollar
	case "sqlite3":
		driverName = "sqlite3"
	default:
		return nil, ErrBackendNotSupported
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "sql: open")
	}
	return &Storage{db: db, builder: sq.StatementBuilder.PlaceholderFormat(placeholder)}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}
