package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolplan/toolplan/internal/cache"
	"github.com/toolplan/toolplan/internal/config"
	"github.com/toolplan/toolplan/internal/executor"
	"github.com/toolplan/toolplan/internal/metrics"
	"github.com/toolplan/toolplan/internal/plan"
	"github.com/toolplan/toolplan/internal/planner"
	"github.com/toolplan/toolplan/internal/policy"
	"github.com/toolplan/toolplan/internal/registry"
	"github.com/toolplan/toolplan/internal/scheduler"
	"github.com/toolplan/toolplan/internal/tools"
	"github.com/toolplan/toolplan/internal/trace"
	"github.com/toolplan/toolplan/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	registryPath := flag.String("registry", "", "path to tool catalog (overrides config)")
	planPath := flag.String("plan", "", "YAML plan file to execute")
	request := flag.String("request", "", "natural-language request to plan and execute")
	deadline := flag.Duration("deadline", 0, "plan deadline (overrides config; 0 = config value)")
	history := flag.Int("history", 0, "print the N most recent runs and exit")
	serve := flag.Bool("serve", false, "keep running and execute scheduled jobs")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("toolplan: %v", err)
		}
		cfg = loaded
	}
	if *registryPath != "" {
		cfg.Registry = *registryPath
	}

	app, err := buildApp(cfg)
	if err != nil {
		log.Fatalf("toolplan: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *history > 0:
		runs, err := app.store.ListRuns(ctx, *history)
		if err != nil {
			log.Fatalf("toolplan: %v", err)
		}
		printJSON(runs)
	case *planPath != "":
		p, err := plan.Load(*planPath)
		if err != nil {
			log.Fatalf("toolplan: %v", err)
		}
		app.runAndPrint(ctx, p, *deadline)
	case *request != "":
		p, err := app.planner.Plan(*request)
		if err != nil {
			log.Fatalf("toolplan: %v", err)
		}
		app.runAndPrint(ctx, p, *deadline)
	case *serve:
		if err := app.scheduler.Start(cfg.Scheduler.Jobs); err != nil {
			log.Fatalf("toolplan: %v", err)
		}
		log.Printf("toolplan: %s, %d tools registered, scheduler running", version.Get(), len(app.registry.Names()))
		<-ctx.Done()
		app.scheduler.Stop()
	default:
		fmt.Println(version.Get())
		flag.Usage()
		os.Exit(2)
	}
}

// app ties together every component the CLI can reach.
type app struct {
	cfg       *config.Config
	registry  *registry.Registry
	engine    *executor.Engine
	planner   planner.Strategy
	scheduler *scheduler.Scheduler
	store     *trace.Store
	deadline  time.Duration

	db         *trace.DB
	redisCache *cache.Redis
}

func buildApp(cfg *config.Config) (*app, error) {
	reg := registry.New()
	dispatcher := tools.NewDispatcher()

	taskStore, err := tools.NewTaskStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := tools.RegisterBuiltins(reg, dispatcher, taskStore); err != nil {
		return nil, err
	}
	if cfg.Registry != "" {
		if err := registry.LoadCatalogInto(reg, cfg.Registry); err != nil {
			return nil, err
		}
		if err := tools.BindScripts(reg, dispatcher); err != nil {
			return nil, err
		}
	}

	var resultCache cache.Cache
	var redisCache *cache.Redis
	switch cfg.Cache.Backend {
	case "redis":
		redisCache = cache.NewRedis(cfg.Cache.Addr)
		resultCache = redisCache
	default:
		resultCache = cache.NewMemory()
	}

	breakerCfg, err := cfg.Breaker.Build()
	if err != nil {
		return nil, err
	}
	pol, err := cfg.Executor.Policy()
	if err != nil {
		return nil, err
	}
	stepTimeout, err := cfg.Executor.StepTimeoutDuration()
	if err != nil {
		return nil, err
	}
	planDeadline, err := cfg.Executor.PlanDeadlineDuration()
	if err != nil {
		return nil, err
	}

	db, err := trace.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	store := trace.NewStore(db)
	m := metrics.New(nil)

	engine := executor.New(executor.Config{
		Registry:       reg,
		Invoker:        dispatcher,
		Cache:          resultCache,
		Breakers:       policy.NewBreakerSet(breakerCfg),
		Policy:         pol,
		Metrics:        m,
		Recorder:       store,
		StepTimeout:    stepTimeout,
		MaxConcurrency: cfg.Executor.MaxConcurrency,
	})

	a := &app{
		cfg:        cfg,
		registry:   reg,
		engine:     engine,
		planner:    planner.NewRuleBased(),
		store:      store,
		deadline:   planDeadline,
		db:         db,
		redisCache: redisCache,
	}
	sched := scheduler.NewWithPolicy(a, cfg.DataDir, cfg.Scheduler.Approvers, cfg.Scheduler.MaxJobsPerUser)
	sched.SetMetrics(m)
	a.scheduler = sched
	return a, nil
}

// RunRequest implements scheduler.PlanRunner.
func (a *app) RunRequest(ctx context.Context, request string) (string, error) {
	p, err := a.planner.Plan(request)
	if err != nil {
		return "", err
	}
	res, err := a.engine.Run(ctx, p, a.deadline)
	if err != nil {
		return "", err
	}
	return res.RunID, nil
}

func (a *app) runAndPrint(ctx context.Context, p *plan.Plan, deadline time.Duration) {
	if deadline <= 0 {
		deadline = a.deadline
	}
	res, err := a.engine.Run(ctx, p, deadline)
	if err != nil {
		log.Fatalf("toolplan: %v", err)
	}
	printJSON(res)
	if res.Status != executor.PlanCompleted {
		os.Exit(1)
	}
}

func (a *app) Close() {
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			log.Printf("toolplan: closing redis: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("toolplan: closing trace store: %v", err)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("toolplan: encoding output: %v", err)
	}
}
