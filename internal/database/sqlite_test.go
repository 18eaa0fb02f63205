package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"go.uber.org/zap"
)

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "watchparty.db")
	db, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	if !db.Migrator().HasTable("playlist_snapshots") {
		testContext.Fatalf("expected playlist_snapshots table")
	}
	if db.Migrator().HasTable("db_migrations") {
		testContext.Fatalf("snapshot schema must not carry a migration ledger")
	}
}

func TestOpenSQLiteKeepsExistingSnapshot(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "watchparty.db")
	db, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	existing := snapshot.Record{Name: snapshot.DefaultRecordName, PlaylistJSON: "[]", SavedAtMillis: 5000, OwnerID: "participant_x"}
	if err := db.Create(&existing).Error; err != nil {
		testContext.Fatalf("failed to insert snapshot: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql handle: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		testContext.Fatalf("close failed: %v", err)
	}

	reopened, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("reopen failed: %v", err)
	}
	var stored snapshot.Record
	if err := reopened.Where("name = ?", snapshot.DefaultRecordName).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload snapshot: %v", err)
	}
	if stored.SavedAtMillis != 5000 {
		testContext.Fatalf("expected saved_at untouched on reopen, got %d", stored.SavedAtMillis)
	}
}
