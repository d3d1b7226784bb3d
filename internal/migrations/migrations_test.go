package migrations

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000002_job_index.up.sql":      {Data: []byte("CREATE INDEX two;")},
		"sql/000002_job_index.down.sql":    {Data: []byte("DROP INDEX two;")},
		"sql/000001_transfer_job.up.sql":   {Data: []byte("CREATE TABLE one;")},
		"sql/000001_transfer_job.down.sql": {Data: []byte("DROP TABLE one;")},
		"sql/README.md":                    {Data: []byte("ignored")},
	}
}

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	items, err := loadMigrations(testFS())
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[0].Name != "transfer_job" || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[1].DownSQL != "DROP INDEX two;" {
		t.Fatalf("down SQL = %q", items[1].DownSQL)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":     {Data: []byte("SELECT 1;")},
		"sql/000001_other.down.sql": {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected conflicting name error")
	}
}

func TestRunnerUpAppliesOnlyPendingSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + versionTable)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM " + versionTable)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX two;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO " + versionTable)).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runner := &Runner{fsys: testFS()}
	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up() applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunnerDownRollsBackOnScriptFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + versionTable)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM " + versionTable)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
			AddRow(int64(1), time.Now()).
			AddRow(int64(2), time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP INDEX two;")).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	runner := &Runner{fsys: testFS()}
	rolledBack, err := runner.Down(context.Background(), db, 1)
	if err == nil || !strings.Contains(err.Error(), "roll back migration 2 (job_index)") {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 0 {
		t.Fatalf("Down() rolled back = %d, want 0", rolledBack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunnerStatusReportsAppliedAndPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	appliedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + versionTable)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM " + versionTable)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), appliedAt))

	states, err := (&Runner{fsys: testFS()}).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d", len(states))
	}
	if !states[0].Applied || !states[0].AppliedAt.Equal(appliedAt) || states[0].Name != "transfer_job" {
		t.Fatalf("states[0] = %+v", states[0])
	}
	if states[1].Applied || !states[1].AppliedAt.IsZero() {
		t.Fatalf("states[1] = %+v", states[1])
	}
}
