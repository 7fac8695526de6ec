package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// CLIArgs are the command-line arguments that control a single run.
type CLIArgs struct {
	// Targets are the domains (or URLs) to analyse.
	Targets []string

	// Modules restricts the run to these module ids; empty runs all.
	Modules []string

	// ConfigPath is an optional config file; empty searches the defaults.
	ConfigPath string

	// Concurrency overrides the orchestrator for this run; 0 means "use config default".
	Concurrency int

	// JSON prints the results as JSON instead of a table.
	JSON bool

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// listFlag collects a repeatable flag. Comma separated values are split.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
// Positional arguments are taken as extra targets.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("webaudit", flag.ContinueOnError)
	var (
		targets     listFlag
		modules     listFlag
		configPath  = fs.String("config", "", "Config file (default: ./webaudit.yaml or ./config/webaudit.yaml)")
		concurrency = fs.Int("concurrency", 0, "Concurrent analyses for this run (0=use default)")
		asJSON      = fs.Bool("json", false, "Print results as JSON")
	)
	fs.Var(&targets, "target", "Domain or URL to analyse (repeatable)")
	fs.Var(&modules, "module", "Module id to run (repeatable, default all)")

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		// Flag parsing errors are useful to return to caller
		return nil, err
	}
	for _, rest := range fs.Args() {
		_ = targets.Set(rest)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("missing required -target argument")
	}
	if *concurrency < 0 {
		return nil, fmt.Errorf("-concurrency must not be negative")
	}

	return &CLIArgs{
		Targets:     targets,
		Modules:     modules,
		ConfigPath:  *configPath,
		Concurrency: *concurrency,
		JSON:        *asJSON,
		RawArgs:     args,
	}, nil
}
