package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	// Blank import required for PostgreSQL driver registration for migrations
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator интерфейс для самой библиотеки migrate.Migrate
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine фабрика для создания мигратора (чтобы не лезть в ФС и БД в тестах)
type MigrationEngine func(sourceURL, databaseURL string) (Migrator, error)

type Migration struct {
	sourceURL   string
	databaseURL string
	engine      MigrationEngine
}

func NewMigration(sourceURL, databaseURL string, engine MigrationEngine) *Migration {
	return &Migration{
		sourceURL:   sourceURL,
		databaseURL: databaseURL,
		engine:      engine,
	}
}

// DefaultEngine миграции сервера из каталога на диске
func DefaultEngine(sourceURL, databaseURL string) (Migrator, error) {
	return migrate.New(sourceURL, databaseURL)
}

// EmbeddedSQLiteEngine миграции, встроенные в бинарник, поверх уже
// открытого соединения SQLite. URL игнорируются.
func EmbeddedSQLiteEngine(fsys fs.FS, dir string, db *sql.DB) MigrationEngine {
	return func(_, _ string) (Migrator, error) {
		src, err := iofs.New(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}

		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("sqlite migration driver: %w", err)
		}

		m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			_ = src.Close()
			return nil, err
		}

		return &sharedDBMigrator{m: m, src: src}, nil
	}
}

// sharedDBMigrator не закрывает соединение: им дальше пользуется хранилище
type sharedDBMigrator struct {
	m   *migrate.Migrate
	src interface{ Close() error }
}

func (s *sharedDBMigrator) Up() error {
	return s.m.Up()
}

func (s *sharedDBMigrator) Close() (error, error) {
	return s.src.Close(), nil
}

func (mg *Migration) Up() (err error) {
	m, err := mg.engine(mg.sourceURL, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w; migration up error", err)
	}
	return nil
}
