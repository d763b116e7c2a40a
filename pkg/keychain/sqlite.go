package keychain

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DatabaseFileName is the sqlite file created inside the keychain directory.
const DatabaseFileName = "keychain.db"

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// SQLiteStore persists items in a sqlite database.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	service string
	now     func() time.Time
}

var _ Backend = (*SQLiteStore)(nil)

// OpenSQLite opens (creating and migrating if needed) the keychain database in dir.
func OpenSQLite(dir, service string) (*SQLiteStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("keychain directory cannot be empty")
	}
	if err := ensureOwnerOnlyDir(dir); err != nil {
		return nil, fmt.Errorf("create keychain dir: %w", err)
	}

	dbPath := filepath.Join(filepath.Clean(dir), DatabaseFileName)
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(FULL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open keychain db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping keychain db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run keychain migrations: %w", err)
	}
	if err := os.Chmod(dbPath, privateFilePerm); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("secure keychain db: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		dbPath:  dbPath,
		service: service,
		now:     time.Now,
	}, nil
}

func runMigrations(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Read implements Store.
func (s *SQLiteStore) Read(account string) ([]byte, bool) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM keychain_items WHERE service = ? AND account = ?`,
		s.service, account,
	).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logStorageFailure("read", s.service, account, err)
		}
		return nil, false
	}
	return data, true
}

// Upsert implements Store. It updates first and inserts only when no row
// matched.
func (s *SQLiteStore) Upsert(account string, data []byte) {
	if data == nil {
		data = []byte{}
	}
	updatedAt := s.now().Unix()

	res, err := s.db.Exec(
		`UPDATE keychain_items SET data = ?, updated_at = ? WHERE service = ? AND account = ?`,
		data, updatedAt, s.service, account,
	)
	if err != nil {
		logStorageFailure("update", s.service, account, err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return
	}

	if _, err := s.db.Exec(
		`INSERT INTO keychain_items (service, account, data, updated_at) VALUES (?, ?, ?, ?)`,
		s.service, account, data, updatedAt,
	); err != nil {
		logStorageFailure("insert", s.service, account, err)
	}
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close implements Backend.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
