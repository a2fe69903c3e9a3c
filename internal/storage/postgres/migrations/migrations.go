// Package migrations has the PostgreSQL schema of the job store.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Up migrates the schema to the latest version and returns it.
func Up(db *sql.DB) (uint, error) {
	return apply(db, (*migrate.Migrate).Up)
}

// Down drops the whole schema.
func Down(db *sql.DB) error {
	_, err := apply(db, (*migrate.Migrate).Down)
	return err
}

func apply(db *sql.DB, step func(*migrate.Migrate) error) (uint, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return 0, fmt.Errorf("could not load migrations: %w", err)
	}
	defer src.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return 0, fmt.Errorf("could not create migration driver: %w", err)
	}

	// Closing the instance would close db, it's owned by the caller.
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return 0, fmt.Errorf("could not create migration instance: %w", err)
	}

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("could not migrate schema: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("could not get schema version: %w", err)
	case dirty:
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
