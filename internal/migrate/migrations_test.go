package migrate_test

import (
	"path/filepath"
	"testing"

	"github.com/shreyes-7/AyurTrack-sub001/internal/db"
	"github.com/shreyes-7/AyurTrack-sub001/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.SQLite, db.SQLitePath(filepath.Join(t.TempDir(), "mirror.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	v, err := migrate.Migrate(conn, db.SQLite)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected version 2, got %d", v)
	}
	if v, err = migrate.Migrate(conn, db.SQLite); err != nil || v != 2 {
		t.Fatalf("second migrate: %d, %v", v, err)
	}
	for _, table := range []string{"participants", "species_rules", "collections", "batches", "processing_steps", "quality_tests", "formulations", "formulation_inputs", "outbox", "outbox_targets", "outbox_seq"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}
