package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewStore opens the backend named by the URL scheme: mongodb:// and
// mongodb+srv:// use the document store, postgres:// and postgresql:// a
// postgres database, and sqlite://<path> a local sqlite file.
func NewStore(ctx context.Context, url, dbName string) (Store, error) {
	switch {
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		store, err := NewMongoStore(ctx, url, dbName)
		if err != nil {
			return nil, err
		}
		return store, nil

	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		log.Println("Connecting to postgres...")
		db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("unable to connect to postgres: %w", err)
		}
		store, err := newMigratedGormStore(db)
		if err != nil {
			return nil, err
		}
		return store, nil

	case strings.HasPrefix(url, "sqlite://"):
		store, err := OpenSqliteStore(strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return store, nil

	case url == "":
		return nil, fmt.Errorf("MONGO_URL is not set")

	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", redact(url))
	}
}

func OpenSqliteStore(path string) (*GormStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newMigratedGormStore(db)
}

func newMigratedGormStore(db *gorm.DB) (*GormStore, error) {
	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewGormStore(db), nil
}

func redact(url string) string {
	if i := strings.Index(url, "@"); i >= 0 {
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			return url[:j+3] + "***" + url[i:]
		}
	}
	return url
}
