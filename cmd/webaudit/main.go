// Command webaudit runs the domain modules once over the given targets and
// prints one line per module and target.
// Usage: go run ./cmd/webaudit -target example.com [-module id] [-json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/raysh454/webaudit/internal/app"
	"github.com/raysh454/webaudit/internal/cli"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/module"
	"github.com/raysh454/webaudit/internal/mozilla"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, err := cli.ParseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := app.LoadConfig(args.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if args.Concurrency > 0 {
		cfg.Orchestrator.Concurrency = args.Concurrency
	}

	targets := make([]module.Target, 0, len(args.Targets))
	for _, raw := range args.Targets {
		t, err := module.ParseTarget(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "target %q: %v\n", raw, err)
			return 2
		}
		targets = append(targets, t)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewStdoutLogger("webaudit")
	a, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	if err := a.Start(ctx); err != nil {
		// Modules that failed to initialize are dropped; the rest still run.
		logger.Warn("some modules failed to initialize", logging.Field{Key: "error", Value: err.Error()})
	}

	results, err := a.Orch.Run(ctx, targets, args.Modules...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if args.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	} else {
		printTable(results)
	}

	for _, r := range results {
		if !r.OK {
			return 1
		}
	}
	return 0
}

func printTable(results []app.TargetResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tHOST\tSTATUS\tGRADE\tSCORE\tPASSED\tFAILED")
	for _, r := range results {
		if !r.OK {
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t-\t%s\n", r.Module, r.Hostname, r.Kind, r.Error)
			continue
		}
		if res, ok := r.Result.(mozilla.Result); ok {
			fmt.Fprintf(tw, "%s\t%s\tok\t%s\t%g\t%d\t%d\n", r.Module, r.Hostname, res.Grade, res.Score, res.TestsPassed, res.TestsFailed)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\tok\t-\t-\t-\t-\n", r.Module, r.Hostname)
	}
	tw.Flush()
}
