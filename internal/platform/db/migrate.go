package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaPlaceholder is replaced by the quoted target schema in every
// migration before it runs.
const SchemaPlaceholder = "__SCHEMA__"

// Migration represents a single database migration loaded from a SQL file.
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt time.Time
}

// MigrationStatus represents the status of a migration (applied or pending).
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies versioned SQL files from fsys to a schema, tracking
// applied versions in that schema's _migrations table.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// LoadMigrations reads all .sql files at the root of fsys, parses the
// version from the filename prefix ("001_core.sql" -> 1) and returns them
// sorted by version. Files without a numeric prefix are skipped.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// RenderMigration substitutes the quoted schema for the placeholder.
func RenderMigration(sql, schemaIdent string) string {
	return strings.ReplaceAll(sql, SchemaPlaceholder, schemaIdent)
}

func ensureMigrationsTable(ctx context.Context, q Querier, schemaIdent string) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s._migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW()
)`, schemaIdent))
	if err != nil {
		return fmt.Errorf("create _migrations table in %s: %w", schemaIdent, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, q Querier, schemaIdent string) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT version, applied_at FROM %s._migrations`, schemaIdent))
	if err != nil {
		return nil, fmt.Errorf("query applied versions in %s: %w", schemaIdent, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = at
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, q Querier, schemaIdent string, mig Migration) error {
	if _, err := q.Exec(ctx, RenderMigration(mig.SQL, schemaIdent)); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := q.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s._migrations (version, name) VALUES ($1, $2)", schemaIdent),
		mig.Version, mig.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// Up applies all pending migrations to the named schema, each in its own
// transaction. Returns the count of applied migrations.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	ident := pgx.Identifier{schema}.Sanitize()
	if err := ensureMigrationsTable(ctx, m.pool, ident); err != nil {
		return 0, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, m.pool, ident)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.applyInTx(ctx, ident, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

// UpPartition applies pending template versions to a tenant partition.
func (m *Migrator) UpPartition(ctx context.Context, p Partition) (int, error) {
	if _, err := p.Ident(); err != nil {
		return 0, err
	}
	return m.Up(ctx, p.String())
}

// ApplyTemplate applies every pending migration to p on q, typically the
// provisioning transaction, so a failure leaves nothing behind.
func (m *Migrator) ApplyTemplate(ctx context.Context, q Querier, p Partition) (int, error) {
	ident, err := p.Ident()
	if err != nil {
		return 0, err
	}
	if err := ensureMigrationsTable(ctx, q, ident); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, q, ident)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := applyMigration(ctx, q, ident, mig); err != nil {
			return count, fmt.Errorf("apply template %d (%s) to %s: %w", mig.Version, mig.Name, p, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) applyInTx(ctx context.Context, schemaIdent string, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := applyMigration(ctx, tx, schemaIdent, mig); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Status returns applied and pending migrations for the named schema.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	ident := pgx.Identifier{schema}.Sanitize()
	if err := ensureMigrationsTable(ctx, m.pool, ident); err != nil {
		return nil, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	appliedMap, err := appliedVersions(ctx, m.pool, ident)
	if err != nil {
		return nil, err
	}

	var statuses []MigrationStatus
	for _, mig := range migrations {
		status := MigrationStatus{
			Version: mig.Version,
			Name:    mig.Name,
		}
		if at, ok := appliedMap[mig.Version]; ok {
			status.Applied = true
			appliedAt := at
			status.AppliedAt = &appliedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
