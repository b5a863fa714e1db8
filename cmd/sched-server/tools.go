package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ehr/schedengine/internal/config"
	"github.com/ehr/schedengine/internal/domain/scheduling"
	"github.com/ehr/schedengine/internal/platform/db"
	"github.com/ehr/schedengine/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS, cfg.DBSchema)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", cfg.DBSchema)

			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, cfg.DBSchema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), cfg.DBSchema, statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.DateTime)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// withEngine loads config, opens the configured store and runs fn with an
// engine over it.
func withEngine(ctx context.Context, fn func(*scheduling.Engine, scheduling.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg)
	defer closeLog()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	schedCfg, err := cfg.Scheduling()
	if err != nil {
		return err
	}
	engine, err := scheduling.NewEngine(b.store, schedCfg)
	if err != nil {
		return err
	}
	return fn(engine, schedCfg)
}

func conflictsCmd() *cobra.Command {
	var clinic, from, to string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Report scheduling conflicts of a clinic as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *scheduling.Engine, sc scheduling.Config) error {
				return runConflicts(cmd.Context(), cmd.OutOrStdout(), engine, sc.Location, clinic, from, to)
			})
		},
	}
	cmd.Flags().StringVar(&clinic, "clinic", "", "Clinic id")
	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "Last day inclusive, YYYY-MM-DD (default from + 6 days)")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}

func runConflicts(ctx context.Context, w io.Writer, engine *scheduling.Engine, loc *time.Location, clinic, from, to string) error {
	clinicID, err := uuid.Parse(clinic)
	if err != nil {
		return fmt.Errorf("--clinic: %w", err)
	}
	start, err := parseDay(from, loc, time.Now())
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	last, err := parseDay(to, loc, start.AddDate(0, 0, 6))
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	rng, err := scheduling.NewTimeInterval(start, last.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	conflicts, err := engine.DetectConflicts(ctx, clinicID, rng)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]any{
		"range":     rng,
		"count":     len(conflicts),
		"conflicts": conflicts,
	})
}

type findSlotOptions struct {
	clinic         string
	practitioner   string
	specialization string
	date           string
	duration       time.Duration
	strategy       string
	list           int
}

func findSlotCmd() *cobra.Command {
	var opts findSlotOptions
	cmd := &cobra.Command{
		Use:   "find-slot",
		Short: "Find the best available slot (or list slots) as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *scheduling.Engine, sc scheduling.Config) error {
				return runFindSlot(cmd.Context(), cmd.OutOrStdout(), engine, sc.Location, opts, time.Now())
			})
		},
	}
	cmd.Flags().StringVar(&opts.clinic, "clinic", "", "Clinic id")
	cmd.Flags().StringVar(&opts.practitioner, "practitioner", "", "Restrict to one practitioner id")
	cmd.Flags().StringVar(&opts.specialization, "specialization", "", "Required specialization")
	cmd.Flags().StringVar(&opts.date, "date", "", "Preferred date, YYYY-MM-DD (default today)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 30*time.Minute, "Appointment duration")
	cmd.Flags().StringVar(&opts.strategy, "strategy", string(scheduling.StrategyBalanced), "Scoring strategy")
	cmd.Flags().IntVar(&opts.list, "list", 0, "List up to N available slots instead of the best one")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}

func runFindSlot(ctx context.Context, w io.Writer, engine *scheduling.Engine, loc *time.Location, opts findSlotOptions, now time.Time) error {
	clinicID, err := uuid.Parse(opts.clinic)
	if err != nil {
		return fmt.Errorf("--clinic: %w", err)
	}
	preferred, err := parseDay(opts.date, loc, now)
	if err != nil {
		return fmt.Errorf("--date: %w", err)
	}
	criteria := scheduling.SlotCriteria{
		ClinicID:       clinicID,
		Specialization: opts.specialization,
		Duration:       opts.duration,
		PreferredDate:  preferred,
		Today:          now,
		NotBefore:      now,
		Strategy:       scheduling.OptimizationStrategy(opts.strategy),
		Limit:          opts.list,
	}
	if opts.practitioner != "" {
		pid, err := uuid.Parse(opts.practitioner)
		if err != nil {
			return fmt.Errorf("--practitioner: %w", err)
		}
		criteria.PractitionerID = &pid
	}

	if opts.list > 0 {
		list, err := engine.ListAvailableSlots(ctx, criteria)
		if err != nil {
			return err
		}
		return writeJSON(w, list)
	}
	res, err := engine.FindOptimalSlot(ctx, criteria)
	if err != nil {
		return err
	}
	return writeJSON(w, res)
}

// parseDay parses a YYYY-MM-DD date at midnight in loc; empty means the day of def.
func parseDay(s string, loc *time.Location, def time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := def.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
