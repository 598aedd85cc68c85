package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/killallgit/episode-harvester/internal/models"
)

// Options controls how the ledger database is opened
type Options struct {
	Verbose  bool // log every query
	ReadOnly bool
}

type DB struct {
	*gorm.DB
}

// Open opens the SQLite ledger at path and migrates the ledger table.
//
// A read-only open never touches the file: it is opened with mode=ro and
// not migrated, and a file that does not exist yet reads as an empty
// in-memory ledger.
func Open(path string, opts Options) (*DB, error) {
	dsn, migrate := path, true
	if opts.ReadOnly {
		_, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			dsn = ":memory:"
		case err != nil:
			return nil, fmt.Errorf("checking ledger database: %w", err)
		default:
			dsn, migrate = readOnlyDSN(path), false
		}
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logLevel := logger.Error
	if opts.Verbose {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" in one database
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	conn := &DB{DB: db}
	if migrate {
		if err := db.AutoMigrate(&models.LedgerEntry{}); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrating ledger table: %w", err)
		}
	}
	return conn, nil
}

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func readOnlyDSN(path string) string {
	return "file:" + uriEscaper.Replace(filepath.ToSlash(path)) + "?mode=ro"
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	return sqlDB.Close()
}
