package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "duckxfer_schema_migrations"

// 000001_transfer_job.up.sql -> version 1, name transfer_job, direction up.
var fileNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

// Runner applies the embedded ledger schema scripts in version order and
// tracks them in duckxfer_schema_migrations.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// State describes one known migration and whether the database has it.
type State struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Up applies pending migrations, at most steps of them when steps > 0.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	plan, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, item := range plan {
		if _, ok := applied[item.Version]; ok {
			continue
		}
		if steps > 0 && done >= steps {
			break
		}
		err := runStep(ctx, db, item.UpSQL,
			`INSERT INTO `+versionTable+` (version) VALUES ($1)`, item.Version)
		if err != nil {
			return done, fmt.Errorf("apply migration %d (%s): %w", item.Version, item.Name, err)
		}
		done++
	}
	return done, nil
}

// Down rolls back the newest applied migrations; steps <= 0 means one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	plan, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	byVersion := make(map[int64]migration, len(plan))
	for _, item := range plan {
		byVersion[item.Version] = item
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	slices.Reverse(versions)

	done := 0
	for _, version := range versions {
		if done >= steps {
			break
		}
		item, ok := byVersion[version]
		if !ok {
			return done, fmt.Errorf("applied migration %d has no embedded script", version)
		}
		err := runStep(ctx, db, item.DownSQL,
			`DELETE FROM `+versionTable+` WHERE version = $1`, item.Version)
		if err != nil {
			return done, fmt.Errorf("roll back migration %d (%s): %w", item.Version, item.Name, err)
		}
		done++
	}
	return done, nil
}

// Status lists every embedded migration with its applied state.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]State, error) {
	plan, applied, err := r.prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	states := make([]State, 0, len(plan))
	for _, item := range plan {
		appliedAt, ok := applied[item.Version]
		states = append(states, State{
			Version:   item.Version,
			Name:      item.Name,
			Applied:   ok,
			AppliedAt: appliedAt,
		})
	}
	return states, nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]migration, map[int64]time.Time, error) {
	plan, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure %s: %w", versionTable, err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return plan, applied, nil
}

// runStep executes script and the version bookkeeping statement in one
// transaction.
func runStep(ctx context.Context, db *sql.DB, script, bookkeeping string, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("update %s: %w", versionTable, err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]time.Time{}
	for rows.Next() {
		var (
			version   int64
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = appliedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := fileNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: bad version: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: matches[2]}
			byVersion[version] = item
		} else if item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, matches[2])
		}
		if matches[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	plan := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		plan = append(plan, *item)
	}
	slices.SortFunc(plan, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return plan, nil
}
