package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"fieldsync/internal/infrastructure/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Storage локальное хранилище клиента: кэш записей, очередь изменений,
// конфликты и аренда синхронизации в одном файле SQLite
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

func New(path string, log *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// одно соединение: запись в SQLite все равно сериализуется
	db.SetMaxOpenConns(1)

	mg := migration.NewMigration("iofs://migrations", path, migration.EmbeddedSQLiteEngine(migrationsFS, "migrations", db))
	if err := mg.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}

	return &Storage{
		db:  db,
		log: log.With("component", "sqlite_storage"),
	}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) Cache() *CacheRepository {
	return &CacheRepository{db: s.db}
}

func (s *Storage) Queue() *QueueRepository {
	return &QueueRepository{db: s.db}
}

func (s *Storage) Conflicts() *ConflictRepository {
	return &ConflictRepository{db: s.db}
}

func (s *Storage) Lease(name string) *Lease {
	return &Lease{db: s.db, name: name}
}

// builder запросы с плейсхолдерами SQLite
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
