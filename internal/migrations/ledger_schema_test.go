package migrations

import (
	"strings"
	"testing"
)

func TestLedgerMigrationContainsRequiredTablesAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_transfer_job.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	requiredSnippets := []string{
		"CREATE TABLE transfer_job",
		"job_id TEXT PRIMARY KEY",
		"CREATE INDEX idx_transfer_job_finished_desc",
		"CREATE INDEX idx_transfer_job_kind_finished",
	}

	for _, snippet := range requiredSnippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) == 0 || items[0].Version != 1 {
		t.Fatalf("items = %+v", items)
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE IF EXISTS transfer_job") {
		t.Fatalf("down SQL = %q", items[0].DownSQL)
	}
}
