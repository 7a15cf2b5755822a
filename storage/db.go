package storage

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations
var migrationFS embed.FS

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB is a relational store together with the SQL dialect its queries are
// built for.
type DB struct {
	*sqlx.DB
	dsn    string
	flavor sqlbuilder.Flavor
}

// Open connects to a postgres or sqlite database.
func Open(driver, dsn string, pool PoolConfig) (*DB, error) {
	var flavor sqlbuilder.Flavor
	switch driver {
	case DriverPostgres:
		flavor = sqlbuilder.PostgreSQL
	case DriverSQLite:
		flavor = sqlbuilder.SQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY on concurrent inserts
		db.SetMaxOpenConns(1)
	} else {
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{DB: db, dsn: dsn, flavor: flavor}, nil
}

// Flavor is the go-sqlbuilder dialect for this database.
func (db *DB) Flavor() sqlbuilder.Flavor {
	return db.flavor
}

type migrationLogger struct {
	logger *log.Logger
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.logger.Infof(format, v...)
}

func (l migrationLogger) Verbose() bool {
	return l.logger.IsLevelEnabled(log.DebugLevel)
}

// Migrate applies the embedded schema for the database dialect.
func (db *DB) Migrate(logger *log.Logger) error {
	dir := "migrations/" + db.DriverName()
	sub, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var m *migrate.Migrate
	if db.DriverName() == DriverSQLite {
		// in-memory databases only exist on this handle
		drv, err := sqlite.WithInstance(db.DB.DB, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, DriverSQLite, drv)
		if err != nil {
			return fmt.Errorf("create migrate instance: %w", err)
		}
	} else {
		m, err = migrate.NewWithSourceInstance("iofs", src, db.dsn)
		if err != nil {
			return fmt.Errorf("create migrate instance: %w", err)
		}
		defer m.Close()
	}
	m.Log = migrationLogger{logger: logger}

	start := time.Now()
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		logger.WithError(err).Errorf("Failed to apply migrations. Database version is dirty=%t at version %d", dirty, version)
		return err
	}
	logger.Infof("Database migrations completed in %v", time.Since(start))
	return nil
}
