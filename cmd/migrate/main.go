package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"campaignservice/internal/app"
	"campaignservice/internal/config"
	"campaignservice/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the campaign database schema",
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB) error {
				applied, err := repository.NewMigrator(db).Up(cmd.Context())
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					cmd.Println("database is up to date")
				}
				for _, m := range applied {
					cmd.Printf("applied %03d_%s\n", m.Version, m.Name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB) error {
				m, err := repository.NewMigrator(db).Down(cmd.Context())
				if err != nil {
					return err
				}
				if m == nil {
					cmd.Println("nothing to roll back")
					return nil
				}
				cmd.Printf("rolled back %03d_%s\n", m.Version, m.Name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB) error {
				migrations, err := repository.NewMigrator(db).Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
				for _, m := range migrations {
					at := "pending"
					if m.AppliedAt != nil {
						at = m.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%03d\t%s\t%s\n", m.Version, m.Name, at)
				}
				return tw.Flush()
			}),
		},
		newSeedCmd(),
	)
	return root
}

// withDB opens the configured database for the duration of one command
func withDB(fn func(cmd *cobra.Command, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		db, err := app.OpenDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd, db)
	}
}
