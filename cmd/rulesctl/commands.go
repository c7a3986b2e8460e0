package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-procurement-letters/internal/config"
	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/seed"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/migrations"
	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

const listPageSize = 100

type env struct {
	db  *database.DB
	log *logger.Logger
}

func (e *env) Close() {
	e.db.Close()
}

func (e *env) rules() *service.RuleService {
	return service.NewRuleService(repository.NewRuleRepository(e.db), e.log)
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := config.LoadTooling()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: "rulesctl",
		Version:     Version,
	})
	db, err := database.New(ctx, cfg.Database.Pool())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{db: db, log: log}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			applied, err := migrations.Apply(ctx, e.db)
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return err
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed roles, units and amount tiers",
		Long: `Seed roles, units and amount tiers from a YAML document.

Without --file the built-in standard organisation is used. Roles and units
are upserted by code; rules are only created when the rule table is empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadSeed(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := connect(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := seed.Apply(ctx, f, repository.NewDirectoryRepository(e.db), e.rules())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "roles: %d, units: %d, rules: %d\n", res.Roles, res.Units, res.Rules)
			if res.RulesSkipped {
				fmt.Fprintln(out, "rules already present, tiers not seeded")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file (default: built-in organisation)")
	return cmd
}

func loadSeed(path string) (*seed.File, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.Load(path)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify every amount maps to exactly one rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.rules().CheckCoverage(ctx)
			if err != nil {
				return err
			}
			writeCoverage(cmd.OutOrStdout(), report)
			return report.Err()
		},
	}
}

func listCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules with their approval chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			var all []*repository.Rule
			svc := e.rules()
			for page := 1; ; page++ {
				result, err := svc.ListRules(ctx, search, page, listPageSize)
				if err != nil {
					return err
				}
				all = append(all, result.Rules...)
				if len(result.Rules) < listPageSize || int64(len(all)) >= result.Total {
					break
				}
			}
			return writeRules(cmd.OutOrStdout(), all)
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by rule name")
	return cmd
}

func writeRules(w io.Writer, rules []*repository.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRANGE\tCHAIN")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, formatRange(r.MinAmount, r.MaxAmount), formatChain(r.Steps))
	}
	return tw.Flush()
}

func writeCoverage(w io.Writer, report *service.CoverageReport) {
	if report.OK() {
		fmt.Fprintf(w, "ok: %d rules cover every amount exactly once\n", report.Rules)
		return
	}
	for _, g := range report.Gaps {
		fmt.Fprintf(w, "gap: %s\n", formatRange(g.From, g.To))
	}
	for _, o := range report.Overlaps {
		fmt.Fprintf(w, "overlap: %s and %s on %s\n", o.First, o.Second, formatRange(o.Range.From, o.Range.To))
	}
}

func formatRange(min int64, max *int64) string {
	from := decimal.NewFromInt(min).StringFixed(0)
	if max == nil {
		return from + "+"
	}
	return from + ".." + decimal.NewFromInt(*max).StringFixed(0)
}

func formatChain(steps []repository.Step) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		role := s.RoleName
		if role == "" {
			role = string(s.RoleID)
		}
		parts = append(parts, fmt.Sprintf("%s:%s", s.Kind, role))
	}
	return strings.Join(parts, " > ")
}
