package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/nodes"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "schedule":
		err = cmdSchedule(os.Args[2:])
	case "live":
		err = cmdLive(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `flowgraph - workflow graph execution engine

Usage:
  flowgraph run -graph <file> [flags]    execute a workflow graph
  flowgraph validate -graph <file>       validate a workflow graph
  flowgraph schedule [flags]             run the cron scheduler daemon
  flowgraph live -graph <file> [flags]   run a graph repeatedly on an interval
  flowgraph version                      print the version

Run flags:
  -graph string       path to the workflow graph JSON (required)
  -inputs string      run inputs as JSON, or @file to read from a file
  -db string          libSQL database path for run persistence
  -concurrency int    parallel node executions per level
  -node-timeout dur   per-node execution timeout (e.g. 30s)
  -events             stream run events to stderr as JSON lines

Schedule flags:
  -db string          libSQL database path holding the jobs (required)
  -graph string       graph to register as a new job (with -cron)
  -cron string        cron expression for the new job

Live flags:
  -graph string       path to the workflow graph JSON (required)
  -interval-ms int    delay between iterations
  -max-iterations int iteration cap
  -error-policy str   skip or stop on iteration errors

Environment:
  FLOWGRAPH_DB_PATH, FLOWGRAPH_LOG_LEVEL, FLOWGRAPH_CONCURRENCY,
  FLOWGRAPH_NODE_TIMEOUT, OPENAI_API_KEY, OPENAI_BASE_URL
`)
}

func cmdRun(args []string) error {
	cfg := loadConfig()

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to the workflow graph JSON")
	inputsArg := fs.String("inputs", "", "run inputs as JSON, or @file")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "libSQL database path")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "parallel node executions per level")
	fs.DurationVar(&cfg.NodeTimeout, "node-timeout", cfg.NodeTimeout, "per-node execution timeout")
	streamEvents := fs.Bool("events", false, "stream run events to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)

	g, err := loadGraph(*graphPath)
	if err != nil {
		return err
	}
	if err := validation.NewGraphValidator().ValidateGraph(g); err != nil {
		return err
	}

	inputs, err := parseInputs(*inputsArg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := streaming.NewMemoryHub()
	if *streamEvents {
		ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return err
		}
		defer cancel()
		go func() {
			enc := json.NewEncoder(os.Stderr)
			for ev := range ch {
				_ = enc.Encode(ev)
			}
		}()
	}

	var opts []engine.Option
	if cfg.DBPath != "" {
		s, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()
		opts = append(opts, engine.WithStore(s))
	}

	eng := engine.New(buildRegistry(), hub, engine.Config{
		Concurrency: cfg.Concurrency,
		NodeTimeout: cfg.NodeTimeout,
	}, opts...)
	defer eng.Shutdown()

	result, err := eng.Run(ctx, workflowIDFromPath(*graphPath), g, inputs)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if result.Status != schema.RunStatusCompleted {
		os.Exit(1)
	}
	return nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to the workflow graph JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g, err := loadGraph(*graphPath)
	if err != nil {
		return err
	}

	result := validation.NewGraphValidator().Validate(g)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Path, w.Message)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Path, e.Message)
	}
	if !result.Valid() {
		os.Exit(1)
	}
	fmt.Println("graph is valid")
	return nil
}

func loadGraph(path string) (*schema.Graph, error) {
	if path == "" {
		return nil, fmt.Errorf("-graph is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return schema.ParseGraph(raw)
}

func parseInputs(arg string) (map[string]any, error) {
	if arg == "" {
		return nil, nil
	}
	raw := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("read inputs file: %w", err)
		}
		raw = data
	}
	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("parse inputs JSON: %w", err)
	}
	return inputs, nil
}

func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// buildRegistry returns the built-in executors plus the llm executor when an
// API key is configured.
func buildRegistry() *nodes.Registry {
	r := nodes.NewBuiltinRegistry()
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		chat := nodes.NewOpenAIChat(apiKey, os.Getenv("OPENAI_BASE_URL"), os.Getenv("FLOWGRAPH_MODEL"))
		_ = r.Register(&nodes.LLMExecutor{Chat: chat})
	}
	return r
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(logging.NewCorrelationHandler(inner)))
}
