package migrations

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the class for schema migration failures.
var Error = errs.Class("migrations")

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

// Status describes the schema version recorded in the database.
type Status struct {
	Version uint
	Dirty   bool
	Fresh   bool
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, Error.New("db cannot be nil")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, Error.Wrap(err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	currentVersion := uint(0)
	if v, dirty, verr := m.Version(); verr == nil {
		currentVersion = v
		log.Info("current database schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	} else if errors.Is(verr, migrate.ErrNilVersion) {
		log.Info("no existing migration version (fresh database)")
	} else {
		log.Warn("unable to determine current schema version", zap.Error(verr))
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database schema is up to date", zap.Uint("version", currentVersion))
			return nil
		}
		return Error.Wrap(err)
	}

	if v, _, err := m.Version(); err == nil {
		log.Info("applied migrations", zap.Uint("version", v))
	} else {
		log.Warn("applied migrations but failed to read new version", zap.Error(err))
	}

	return nil
}

// CurrentStatus reports the recorded schema version without changing it.
func CurrentStatus(db *sql.DB) (Status, error) {
	m, err := newMigrator(db)
	if err != nil {
		return Status{}, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Fresh: true}, nil
	}
	if err != nil {
		return Status{}, Error.Wrap(err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}

// FixDirtyDatabase clears the dirty flag left by a failed migration by forcing
// the schema back to the last version that completed.
func FixDirtyDatabase(db *sql.DB) error {
	status, err := CurrentStatus(db)
	if err != nil {
		return err
	}
	if !status.Dirty {
		return nil
	}

	target := int(status.Version) - 1
	if target < 1 {
		// golang-migrate uses -1 for "no version".
		target = -1
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	return Error.Wrap(m.Force(target))
}

// ForceVersion records version as applied without running any migration.
func ForceVersion(db *sql.DB, version uint) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	return Error.Wrap(m.Force(int(version)))
}
