package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, errors.ErrCodeTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, errors.ErrCodeTransient},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, errors.ErrCodeTransient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, errors.ErrCodeConflict},
		{"malformed uuid", &pgconn.PgError{Code: "22P02"}, errors.ErrCodeInvalidInput},
		{"dangling reference", &pgconn.PgError{Code: "23503"}, errors.ErrCodeInvalidInput},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, errors.ErrCodeInternal},
		{"wrapped deadlock", fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), errors.ErrCodeTransient},
		{"app error passes through", errors.Forbidden("no"), errors.ErrCodeForbidden},
		{"plain error", stderrors.New("boom"), errors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.CodeOf(Classify(tt.err, "op"))
			if got != tt.want {
				t.Errorf("Classify() code = %s, want %s", got, tt.want)
			}
		})
	}

	if Classify(nil, "op") != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Error("IsNoRows should see through wrapping")
	}
	if IsNoRows(stderrors.New("other")) {
		t.Error("IsNoRows matched an unrelated error")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"plain", Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "letters"}},
		{"password with spaces and quotes", Config{Host: "db", Port: 5432, User: "app user", Password: `p@ss w'rd"=x`, Database: "letters"}},
		{"password with url delimiters", Config{Host: "db", Port: 6432, User: "u", Password: "a/b?c#d%e:f", Database: "letters", SSLMode: "require"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := pgx.ParseConfig(tt.cfg.DSN())
			if err != nil {
				t.Fatalf("ParseConfig(%q) error = %v", tt.cfg.DSN(), err)
			}
			if parsed.Host != tt.cfg.Host || int(parsed.Port) != tt.cfg.Port {
				t.Errorf("host = %s:%d, want %s:%d", parsed.Host, parsed.Port, tt.cfg.Host, tt.cfg.Port)
			}
			if parsed.User != tt.cfg.User || parsed.Password != tt.cfg.Password || parsed.Database != tt.cfg.Database {
				t.Errorf("credentials = %q/%q/%q, want %q/%q/%q",
					parsed.User, parsed.Password, parsed.Database, tt.cfg.User, tt.cfg.Password, tt.cfg.Database)
			}
		})
	}
}

func TestDSNSchema(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Database: "letters", Schema: "it_1"}
	parsed, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if got := parsed.RuntimeParams["search_path"]; got != "it_1,public" {
		t.Errorf("search_path = %q, want it_1,public", got)
	}
}

// stubTx satisfies pgx.Tx for identity checks only.
type stubTx struct {
	pgx.Tx
}

func TestQuerierFollowsContextTransaction(t *testing.T) {
	db := &DB{}
	ctx := context.Background()

	if q, ok := db.Querier(ctx).(*DB); !ok || q != db {
		t.Errorf("Querier() without tx = %T, want the pool", db.Querier(ctx))
	}

	tx := &stubTx{}
	txCtx := WithTx(ctx, tx)
	if q, ok := db.Querier(txCtx).(*stubTx); !ok || q != tx {
		t.Errorf("Querier() with tx = %T, want the transaction", db.Querier(txCtx))
	}
	if _, ok := TxFromContext(ctx); ok {
		t.Error("TxFromContext() found a transaction in a bare context")
	}
}
