package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestAllIncludesSchema(t *testing.T) {
	scripts, err := All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(scripts) == 0 || scripts[0].Name != "0001_init.sql" {
		t.Fatalf("unexpected scripts: %v", scripts)
	}
	for _, table := range []string{"procurement_rules", "procurement_steps", "procurement_letters", "procurement_logs"} {
		if !strings.Contains(scripts[0].SQL, table) {
			t.Errorf("schema is missing table %s", table)
		}
	}
}

type recordingTx struct {
	pgx.Tx
	execs *[]string
	fail  bool
}

func (tx recordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if tx.fail {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	*tx.execs = append(*tx.execs, sql)
	return pgconn.CommandTag{}, nil
}

type recordingRunner struct {
	execs []string
	fail  bool
}

func (r *recordingRunner) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(recordingTx{execs: &r.execs, fail: r.fail})
}

func TestApplyRunsEveryScript(t *testing.T) {
	runner := &recordingRunner{}
	applied, err := Apply(context.Background(), runner)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	scripts, _ := All()
	if len(applied) != len(scripts) || len(runner.execs) != len(scripts) {
		t.Errorf("applied %v, executed %d statements, want %d", applied, len(runner.execs), len(scripts))
	}
}

func TestApplyStopsOnFailure(t *testing.T) {
	applied, err := Apply(context.Background(), &recordingRunner{fail: true})
	if err == nil || !strings.Contains(err.Error(), "0001_init.sql") {
		t.Fatalf("Apply() error = %v, want failure naming the script", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %v, want none", applied)
	}
}
