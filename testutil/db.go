// Package testutil provides shared test fixtures.
package testutil

import (
	"path/filepath"
	"testing"

	"asl-contribution-system/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB opens a throwaway file-backed SQLite database with the full
// schema migrated. File-backed (not :memory:) so concurrent connections see
// the same database.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			t.Fatalf("exec %s: %v", pragma, err)
		}
	}

	if err := db.AutoMigrate(
		&models.Contribution{},
		&models.RewardAttempt{},
		&models.ContributorProgress{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
