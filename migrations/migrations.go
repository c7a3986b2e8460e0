// Package migrations embeds the PostgreSQL schema.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
)

//go:embed *.sql
var files embed.FS

// Script is one migration file.
type Script struct {
	Name string
	SQL  string
}

// All returns the embedded migrations in lexical (apply) order.
func All() ([]Script, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, Script{Name: name, SQL: string(b)})
	}
	return scripts, nil
}

// Runner executes a function inside a database transaction.
type Runner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Apply runs every script in order, each in its own transaction, and returns
// the names applied. Scripts are written to be re-runnable.
func Apply(ctx context.Context, db Runner) ([]string, error) {
	scripts, err := All()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	applied := make([]string, 0, len(scripts))
	for _, s := range scripts {
		err := db.InTransaction(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, s.SQL)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", s.Name, err)
		}
		applied = append(applied, s.Name)
	}
	return applied, nil
}
