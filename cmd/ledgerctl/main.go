package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clinicos/backoffice/cmd/ledgerctl/cli"
	"github.com/clinicos/backoffice/internal/app"
	"github.com/clinicos/backoffice/internal/platform/db"
	"github.com/clinicos/backoffice/jobs"
	"github.com/clinicos/backoffice/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the corporate billing ledger",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(migrateCmd(), claimsCmd(), jobsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, db.PoolOptions{})
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, db.PoolOptions{})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-40s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8d %-40s %-8s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})
	return cmd
}

func claimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Generate and export corporate claims",
	}

	var genOpts cli.GenerateOptions
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate claims for a billing month without going through the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			services, err := app.Wire(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer services.Close()

			job := jobs.NewClaimsGenerateJob(services.Corporate, logger, nil)
			genOpts.Stdout = cmd.OutOrStdout()
			genOpts.Stderr = cmd.ErrOrStderr()
			if code := cli.GenerateCommand(cmd.Context(), job, genOpts); code != 0 {
				return fmt.Errorf("claims generate exited with code %d", code)
			}
			return nil
		},
	}
	generate.Flags().StringVar(&genOpts.Company, "company", "all", "company id or \"all\"")
	generate.Flags().StringVar(&genOpts.Period, "period", jobs.PeriodPrevious, "billing month as YYYY-MM or \"previous\"")
	generate.Flags().BoolVar(&genOpts.JSONOutput, "json", false, "print the summary as JSON")
	cmd.AddCommand(generate)

	var exportOpts cli.ExportOptions
	exportCmd := &cobra.Command{
		Use:   "export <claim-id>",
		Short: "Write a claim's lines to CSV or Parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid claim id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			services, err := app.Wire(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer services.Close()

			exportOpts.ClaimID = id
			if exportOpts.Dir == "" {
				exportOpts.Dir = cfg.ExportDir
			}
			res, err := cli.ExportClaim(cmd.Context(), services.Corporate, exportOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d line(s) written to %s (status %s)\n", res.Claim.ClaimNo, res.Rows, res.Path, res.Claim.Status)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportOpts.Format, "format", cli.FormatCSV, "csv or parquet")
	exportCmd.Flags().StringVar(&exportOpts.Dir, "dir", "", "output directory (defaults to EXPORT_DIR)")
	exportCmd.Flags().StringVar(&exportOpts.Out, "out", "", "explicit output file path")
	exportCmd.Flags().BoolVar(&exportOpts.MarkExported, "mark-exported", false, "move the claim to exported after writing")
	cmd.AddCommand(exportCmd)
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	withJobs := func(run func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c := cli.NewJobsCLI(cfg.RedisAddr)
			defer c.Close()
			return run(cmd, c, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a task with its default payload",
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.TaskTypes(),
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Show queue counters",
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error {
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}),
	})

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error {
			tasks, err := c.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.UTC().Format("2006-01-02 15:04:05"))
			}
			return nil
		}),
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")
	cmd.AddCommand(scheduled)
	return cmd
}
