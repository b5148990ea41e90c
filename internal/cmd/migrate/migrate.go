// Package migrate implements the migrate sub-command, grounded on the
// teacher's internal/cmd/migrate/migrate.go shape but wired to the
// bespoke versioned engine in internal/migration instead of the teacher's
// ordered-plugin registrymigrate runner.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/quillmind/memoryd/internal/migration"
	"github.com/quillmind/memoryd/internal/store/gormstore"
)

// exitCoder lets Action return an error that also carries a process exit
// code, which urfave/cli/v3 honors when running the command.
type exitCoder struct {
	err  error
	code int
}

func (e *exitCoder) Error() string  { return e.err.Error() }
func (e *exitCoder) ExitCode() int  { return e.code }
func (e *exitCoder) Unwrap() error  { return e.err }

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run or roll back memoryd's schema migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("MEMORYD_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("MEMORYD_DB_KIND"),
				Usage:   "postgres|sqlite",
				Value:   "postgres",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report pending migrations without applying them",
			},
			&cli.IntFlag{
				Name:  "down",
				Usage: "Roll back the N most recently applied migrations",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "target",
				Usage: "Highest version to apply when migrating up (0 means all pending); with --down, roll back every migration above this version instead of the last N",
				Value: 0,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dialect := cmd.String("db-kind")
			dsn := cmd.String("db-url")

			st, err := gormstore.Open(gormstore.Dialect(dialect), dsn, 5, 2)
			if err != nil {
				return &exitCoder{err: fmt.Errorf("connect: %w", err), code: 1}
			}

			engine := migration.New(st.DB(), dialect)
			engine.DryRun = cmd.Bool("dry-run")
			if err := engine.EnsureTable(ctx); err != nil {
				return &exitCoder{err: err, code: 1}
			}

			if down := cmd.Int("down"); down > 0 {
				if err := engine.Down(ctx, int(down), int(cmd.Int("target"))); err != nil {
					return classifyMigrationError(err)
				}
				log.Info("Rolled back migrations", "count", down)
				return nil
			}

			status, err := engine.Status(ctx)
			if err != nil {
				return &exitCoder{err: err, code: 1}
			}
			log.Info("Migration status", "current", status.CurrentVersion, "pending", len(status.Pending))

			if err := engine.Up(ctx, int(cmd.Int("target"))); err != nil {
				return classifyMigrationError(err)
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}

func classifyMigrationError(err error) error {
	switch {
	case errors.Is(err, migration.ErrChecksumMismatch):
		return &exitCoder{err: err, code: 3}
	case errors.Is(err, migration.ErrGap):
		return &exitCoder{err: err, code: 2}
	default:
		return &exitCoder{err: err, code: 1}
	}
}
