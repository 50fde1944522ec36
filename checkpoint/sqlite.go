package checkpoint

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps checkpoints in an embedded SQLite database.
// Every Put is a single committed statement.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and migrates its schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	// SQLite allows one writer, a single connection keeps writes serialized in process.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate checkpoint database: %w", err)
	}
	return nil
}

// Get ...
func (s *SQLiteStore) Get(key string) (Checkpoint, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT document FROM checkpoints WHERE object_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("query checkpoint: %w", err)
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Put ...
func (s *SQLiteStore) Put(key string, cp Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO checkpoints (object_key, document, updated_at) VALUES (?, ?, ?)
ON CONFLICT (object_key) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

// Delete ...
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE object_key = ?`, key); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close ...
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
