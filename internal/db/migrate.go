package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLock is the advisory lock key held while migrating, so two
// daemons starting together apply each file once.
const migrationLock int64 = 0x7461696c6f72

type migration struct {
	Name    string
	Content string
	Hash    string
}

func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		b, err := migrationsFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(b)
		out = append(out, migration{Name: path.Base(name), Content: string(b), Hash: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// Migrations lists the embedded migration names in apply order.
func Migrations() ([]string, error) {
	migs, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(migs))
	for i, m := range migs {
		names[i] = m.Name
	}
	return names, nil
}

// pending drops the migrations already recorded in applied and fails if a
// recorded migration's content changed.
func pending(migs []migration, applied map[string]string) ([]migration, error) {
	var out []migration
	for _, m := range migs {
		hash, ok := applied[m.Name]
		if !ok {
			out = append(out, m)
			continue
		}
		if hash != m.Hash {
			return nil, fmt.Errorf("migration %s changed after it was applied (db=%s embedded=%s)", m.Name, hash, m.Hash)
		}
	}
	return out, nil
}

// ApplyMigrations runs every embedded migration not yet recorded in
// schema_migrations, one transaction per file.
func ApplyMigrations(ctx context.Context, d *DB, logger *zerolog.Logger) error {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	migs, err := loadMigrations()
	if err != nil {
		return err
	}

	conn, err := d.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLock); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLock)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name text PRIMARY KEY,
  sha256 text NOT NULL,
  applied_at timestamptz NOT NULL DEFAULT now()
);
`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT name, sha256 FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := map[string]string{}
	var name, hash string
	if _, err := pgx.ForEachRow(rows, []any{&name, &hash}, func() error {
		applied[name] = hash
		return nil
	}); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	todo, err := pending(migs, applied)
	if err != nil {
		return err
	}
	for _, m := range todo {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Content); err != nil {
				return fmt.Errorf("apply %s: %w", m.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(name, sha256) VALUES ($1,$2)`, m.Name, m.Hash); err != nil {
				return fmt.Errorf("record %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info().Str("migration", m.Name).Msg("migration applied")
	}
	if len(todo) == 0 {
		logger.Debug().Int("migrations", len(migs)).Msg("schema up to date")
	}
	return nil
}
