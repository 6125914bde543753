package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"taxdesk/internal/config"
	"taxdesk/internal/migrations"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func main() {
	command := "help"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up", "down", "status", "reset":
	case "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		fatal("Failed to open database connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("Failed to ping database: %v", err)
	}
	printSuccess("Connected to database\n")

	ctx := context.Background()
	runner := migrations.NewRunner(db)

	switch command {
	case "up":
		err = runUp(ctx, runner)
	case "down":
		err = runDown(ctx, runner)
	case "status":
		err = showStatus(ctx, runner)
	case "reset":
		err = runReset(ctx, runner)
	}
	if err != nil {
		fatal("%s failed: %v", command, err)
	}

	printInfo("\nOperation completed successfully")
}

func runUp(ctx context.Context, runner *migrations.Runner) error {
	done, err := runner.Up(ctx)
	for _, m := range done {
		printSuccess(fmt.Sprintf("  applied %03d_%s", m.Version, m.Name))
	}
	if err != nil {
		return err
	}
	if len(done) == 0 {
		printSuccess("All migrations are up to date")
	}
	return nil
}

func runDown(ctx context.Context, runner *migrations.Runner) error {
	m, err := runner.Down(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		printWarning("No migrations to roll back")
		return nil
	}
	printSuccess(fmt.Sprintf("Rolled back migration %03d_%s", m.Version, m.Name))
	return nil
}

func runReset(ctx context.Context, runner *migrations.Runner) error {
	printWarning("Resetting database (roll back all, then reapply)...\n")
	for {
		m, err := runner.Down(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		printSuccess(fmt.Sprintf("  rolled back %03d_%s", m.Version, m.Name))
	}
	return runUp(ctx, runner)
}

func showStatus(ctx context.Context, runner *migrations.Runner) error {
	all, err := runner.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n", colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	applied := 0
	for _, m := range all {
		status, color, at := "pending", colorYellow, "-"
		if m.Applied {
			applied++
			status, color = "applied", colorGreen
			if m.AppliedAt != nil {
				at = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Printf("%-10s %-40s %s%-12s%s %-20s\n", fmt.Sprintf("%03d", m.Version), m.Name, color, status, colorReset, at)
	}

	fmt.Println(strings.Repeat("-", 85))
	printInfo(fmt.Sprintf("\nSummary: %d/%d migrations applied", applied, len(all)))
	return nil
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

func printUsage() {
	printInfo("=== Taxdesk Migration Runner ===\n")
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  up       - Apply all pending migrations")
	fmt.Println("  down     - Roll back the last applied migration")
	fmt.Println("  status   - Show current migration status")
	fmt.Println("  reset    - Roll back all migrations and reapply them")
	fmt.Println("  help     - Show this help message")
}
