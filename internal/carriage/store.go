package carriage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists the carriage's last known position and axis limits across
// restarts. The position is written on explicit save and read back at
// startup as the initial position.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the state database at path and brings its
// schema up to date.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open carriage state db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// LoadPosition returns the persisted position. ok is false when no position
// has ever been saved.
func (s *Store) LoadPosition() (x, y float64, ok bool, err error) {
	row := s.db.QueryRow(`SELECT x, y FROM carriage_state WHERE id = 1`)
	switch err = row.Scan(&x, &y); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, 0, false, nil
	case err != nil:
		return 0, 0, false, fmt.Errorf("load position: %w", err)
	}
	return x, y, true, nil
}

// SavePosition durably records the position.
func (s *Store) SavePosition(x, y float64) error {
	_, err := s.db.Exec(`
		INSERT INTO carriage_state (id, x, y) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET x = excluded.x, y = excluded.y,
			saved_at = CURRENT_TIMESTAMP`,
		x, y)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadLimits returns the persisted axis limits. Unset bounds come back nil.
func (s *Store) LoadLimits() (Limits, error) {
	var l Limits
	row := s.db.QueryRow(`SELECT min_x, max_x, min_y, max_y FROM carriage_state WHERE id = 1`)
	switch err := row.Scan(&l.MinX, &l.MaxX, &l.MinY, &l.MaxY); {
	case errors.Is(err, sql.ErrNoRows):
		return Limits{}, nil
	case err != nil:
		return Limits{}, fmt.Errorf("load limits: %w", err)
	}
	return l, nil
}

// SaveLimits durably records the axis limits alongside the position row.
func (s *Store) SaveLimits(l Limits) error {
	_, err := s.db.Exec(`
		INSERT INTO carriage_state (id, x, y, min_x, max_x, min_y, max_y)
		VALUES (1, 0, 0, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			min_x = excluded.min_x, max_x = excluded.max_x,
			min_y = excluded.min_y, max_y = excluded.max_y`,
		l.MinX, l.MaxX, l.MinY, l.MaxY)
	if err != nil {
		return fmt.Errorf("save limits: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
