package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed scripts/*.sql
var migrationFS embed.FS

// advisory lock key shared by every instance running migrations
const migrationLock = 0x646f63696e74656c

const metaTable = `
	CREATE TABLE IF NOT EXISTS docintel_meta (
	    version     INT PRIMARY KEY,
	    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

type migration struct {
	version int
	file    string
}

// migrations lists the scripts under scripts/ in version order. Each file name
// starts with its version, e.g. 0001_init.sql.
func migrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "scripts/*.sql")
	if err != nil {
		return nil, err
	}
	seen := map[int]string{}
	out := make([]migration, 0, len(files))
	for _, f := range files {
		prefix, _, ok := strings.Cut(path.Base(f), "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version", f)
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", v, prev, f)
		}
		seen[v] = f
		out = append(out, migration{version: v, file: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func pending(all []migration, applied int) []migration {
	for i, m := range all {
		if m.version > applied {
			return all[i:]
		}
	}
	return nil
}

// EnsureBootstrapped brings the schema up to the newest embedded migration.
// Each script runs in its own transaction together with its docintel_meta row.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctxBoot, metaTable); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}
	var applied int
	if err := db.QueryRowContext(ctxBoot, `SELECT COALESCE(MAX(version), 0) FROM docintel_meta`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	all, err := migrations(migrationFS)
	if err != nil {
		return err
	}
	todo := pending(all, applied)
	if len(todo) == 0 {
		slog.Debug("schema up to date", slog.Int("version", applied))
		return nil
	}
	for _, m := range todo {
		if err := apply(ctxBoot, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	script, err := fs.ReadFile(migrationFS, m.file)
	if err != nil {
		return fmt.Errorf("read %s: %w", m.file, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	// another instance may have applied it while we waited on the lock
	var done bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM docintel_meta WHERE version = $1)`, m.version).Scan(&done); err != nil {
		return fmt.Errorf("check version %d: %w", m.version, err)
	}
	if done {
		return nil
	}

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("exec %s: %w", m.file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO docintel_meta (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("record version %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.file, err)
	}
	slog.Info("schema migrated", slog.Int("version", m.version), slog.String("script", m.file))
	return nil
}
