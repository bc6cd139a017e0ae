package db_test

import (
	"testing"

	"github.com/onnwee/yuka/db"
	"github.com/onnwee/yuka/testutil"
)

func TestRunMigrationsOverEmbeddedSchema(t *testing.T) {
	database := testutil.SetupTestDB(t)

	// Tables already exist from the embedded schema; versioned files must tolerate that.
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
	v, dirty, err := db.MigrationVersion(database)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != 3 || dirty {
		t.Errorf("version = %d dirty=%t, want 3 clean", v, dirty)
	}
}
