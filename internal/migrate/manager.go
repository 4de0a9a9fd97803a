// Package migrate applies versioned SQL migrations from an fs.FS.
// Files pair as NNNN_name.up.sql / NNNN_name.down.sql and run inside a
// transaction each; applied names are recorded in schema_migrations.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const migrationsTable = "schema_migrations"

// Manager runs migrations held in a filesystem, usually an embed.FS.
type Manager struct {
	db  *sql.DB
	src fs.FS
}

// NewManager constructs a Manager over src.
func NewManager(db *sql.DB, src fs.FS) *Manager {
	return &Manager{db: db, src: src}
}

// Up applies every pending migration in lexical order.
func (m *Manager) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	names, err := m.names(".up.sql")
	if err != nil {
		return 0, err
	}
	done := 0
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := m.runFile(ctx, name); err != nil {
			return done, fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := m.db.ExecContext(ctx,
			`insert into `+migrationsTable+`(name, applied_at) values ($1, $2)`,
			name, time.Now().UTC()); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	var last string
	err := m.db.QueryRowContext(ctx,
		`select name from `+migrationsTable+` order by applied_at desc limit 1`).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.New("migrate: nothing applied")
	}
	if err != nil {
		return err
	}
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if err := m.runFile(ctx, down); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx, `delete from `+migrationsTable+` where name = $1`, last)
	return err
}

// Status lists applied migration names in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		`select name from `+migrationsTable+` order by applied_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		create table if not exists `+migrationsTable+` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`)
	return err
}

func (m *Manager) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `select name from `+migrationsTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (m *Manager) names(suffix string) ([]string, error) {
	var names []string
	err := fs.WalkDir(m.src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// runFile executes one migration file inside a transaction. The whole
// file is passed as a single batch; migrations must not contain
// statements that cannot run in a transaction.
func (m *Manager) runFile(ctx context.Context, name string) error {
	body, err := fs.ReadFile(m.src, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	return tx.Commit()
}
