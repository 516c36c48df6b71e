package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/live"
	"github.com/rendis/flowgraph/internal/scheduler"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

// cmdSchedule registers a cron job for a graph (when -cron is given) and then
// runs the scheduler loop until interrupted.
func cmdSchedule(args []string) error {
	cfg := loadConfig()

	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to the workflow graph JSON")
	cronExpr := fs.String("cron", "", "cron expression for the new job (5-field)")
	inputsArg := fs.String("inputs", "", "job inputs as JSON, or @file")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "libSQL database path")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "parallel node executions per level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)

	if cfg.DBPath == "" {
		return fmt.Errorf("-db is required: scheduled jobs live in the store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := streaming.NewMemoryHub()
	eng := engine.New(buildRegistry(), hub, engine.Config{
		Concurrency: cfg.Concurrency,
		NodeTimeout: cfg.NodeTimeout,
	}, engine.WithStore(s))
	defer eng.Shutdown()

	sched := scheduler.New(s, eng, nil)

	if *cronExpr != "" {
		if err := registerJob(ctx, s, sched, *graphPath, *cronExpr, *inputsArg); err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}

func registerJob(ctx context.Context, s store.Store, sched *scheduler.Scheduler, graphPath, cronExpr, inputsArg string) error {
	g, err := loadGraph(graphPath)
	if err != nil {
		return err
	}
	if err := validation.NewGraphValidator().ValidateGraph(g); err != nil {
		return err
	}

	inputs, err := parseInputs(inputsArg)
	if err != nil {
		return err
	}
	var rawInputs json.RawMessage
	if inputs != nil {
		if rawInputs, err = json.Marshal(inputs); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	nextRun, err := sched.CalculateNextRun(cronExpr, now)
	if err != nil {
		return err
	}

	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		WorkflowID:     workflowIDFromPath(graphPath),
		CronExpression: cronExpr,
		Graph:          g,
		Inputs:         rawInputs,
		Enabled:        true,
		NextRunAt:      &nextRun,
		CreatedAt:      now,
	}
	if err := s.CreateScheduledJob(ctx, job); err != nil {
		return err
	}
	fmt.Printf("scheduled job %s for workflow %s, next run %s\n",
		job.ID, job.WorkflowID, nextRun.Format(time.RFC3339))
	return nil
}

// cmdLive runs a graph repeatedly on an interval until interrupted or the
// loop stops itself. Live iteration events are printed as JSON lines.
func cmdLive(args []string) error {
	cfg := loadConfig()

	fs := flag.NewFlagSet("live", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to the workflow graph JSON")
	inputsArg := fs.String("inputs", "", "run inputs as JSON, or @file")
	intervalMS := fs.Int("interval-ms", 0, "delay between iterations in milliseconds")
	maxIterations := fs.Int("max-iterations", 0, "iteration cap")
	errorPolicy := fs.String("error-policy", "", "on iteration error: skip or stop")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "parallel node executions per level")
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
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{TypePrefixes: []string{"live."}})
	if err != nil {
		return err
	}
	defer cancel()
	go func() {
		enc := json.NewEncoder(os.Stdout)
		for ev := range ch {
			_ = enc.Encode(ev)
		}
	}()

	eng := engine.New(buildRegistry(), hub, engine.Config{
		Concurrency: cfg.Concurrency,
		NodeTimeout: cfg.NodeTimeout,
	})
	defer eng.Shutdown()

	workflowID := workflowIDFromPath(*graphPath)
	mgr := live.NewManager(eng, hub, nil)
	if err := mgr.Start(ctx, schema.StartLiveRequest{
		WorkflowID:    workflowID,
		Graph:         g,
		Inputs:        inputs,
		IntervalMS:    *intervalMS,
		MaxIterations: *maxIterations,
		ErrorPolicy:   *errorPolicy,
	}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = mgr.Stop(workflowID)
	}()
	mgr.Wait(workflowID)
	return nil
}

func workflowIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
