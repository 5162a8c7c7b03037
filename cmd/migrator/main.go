// Package main provides the database migration CLI tool for ProcPulse.
//
// Migrations are embedded into the binary, supporting up/down/status/
// version/drop commands for zero-config deployment.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/procpulse-io/procpulse/migrations"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	name      = "migrator"
)

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s (%s)\n", name, Version, GitCommit)
		os.Exit(0)
	}

	if *configHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	command := flag.Arg(0)

	cfg, err := migrations.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	runner, err := migrations.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize migration runner: %v", err)
	}

	defer func() {
		if err := runner.Close(); err != nil {
			log.Printf("Warning: failed to close runner: %v", err)
		}
	}()

	if err := run(runner, command); err != nil {
		log.Fatalf("Command %q failed: %v", command, err)
	}
}

func run(runner *migrations.Runner, command string) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		return runner.Drop()
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s - ProcPulse database migration tool

Usage:
  %s [flags] <command>

Commands:
  up       Apply all pending migrations
  down     Roll back the last migration
  status   Show current migration status
  version  Show current migration version
  drop     Drop all tables (destructive)

Flags:
  -help     Show this help
  -version  Show version information

Environment:
  DATABASE_URL     PostgreSQL connection string (required)
  MIGRATION_TABLE  Version tracking table (default: schema_migrations)
`, name, name)
}
