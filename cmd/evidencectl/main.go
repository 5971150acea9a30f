// Command evidencectl is the operator tool for evidence-engine: schema
// migrations, roster password hashes and bulk uploads.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "evidencectl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "evidencectl",
		Usage:   "Operate an evidence-engine deployment",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Before: setupLogger,
		After: func(c *cli.Context) error {
			_ = loggerFrom(c).Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Manage the Postgres schema (reads database settings from config.yaml and the environment)",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply all pending migrations",
						Action: migrateUpCommand,
					},
					{
						Name:   "down",
						Usage:  "Roll back applied migrations",
						Action: migrateDownCommand,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "steps",
								Usage: "Number of migrations to roll back",
								Value: 1,
							},
						},
					},
					{
						Name:   "version",
						Usage:  "Print the current schema version",
						Action: migrateVersionCommand,
					},
				},
			},
			{
				Name:      "hash-password",
				Usage:     "Print a bcrypt hash for an officials roster entry",
				ArgsUsage: "[password]",
				Action:    hashPasswordCommand,
			},
			{
				Name:      "upload",
				Usage:     "Upload files or directories of evidence through the ingest endpoint",
				ArgsUsage: "PATH...",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Aliases: []string{"s"},
						Usage:   "Base URL of the evidence-engine server",
						Value:   "http://localhost:3443",
						EnvVars: []string{"EVIDENCE_SERVER"},
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Session token sent as a Bearer credential",
						EnvVars: []string{"EVIDENCE_TOKEN"},
					},
					&cli.StringFlag{
						Name:     "category",
						Aliases:  []string{"c"},
						Usage:    "Category recorded on every uploaded file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "location",
						Usage: "Location recorded on every uploaded file",
					},
					&cli.StringFlag{
						Name:  "tags",
						Usage: "Comma-separated tags recorded on every uploaded file",
					},
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of concurrent uploads",
						Value:   4,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-file request timeout",
						Value: 2 * time.Minute,
					},
				},
			},
		},
	}
}

const loggerKey = "logger"

func setupLogger(c *cli.Context) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !c.Bool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[loggerKey] = logger
	return nil
}

func loggerFrom(c *cli.Context) *zap.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}
