package main

import (
	"context"
	"fmt"

	"dmagent/internal/config"
	"dmagent/internal/debug"
	"dmagent/internal/game/actions"
	"dmagent/internal/game/director"
	"dmagent/internal/game/dispatch"
	"dmagent/internal/llm"
	"dmagent/internal/logging"
	"dmagent/internal/mcp"
	"dmagent/internal/observability"
	"dmagent/internal/store"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg         config.Config
	debug       *debug.Logger
	tracer      *observability.TracerProvider
	store       store.Store
	completions *logging.CompletionLogger
	registry    *actions.Registry
	dispatcher  *dispatch.Dispatcher
	metrics     *observability.Metrics
	director    *director.Director
	cleanup     []func()
}

// newApp wires storage and actions. withModel additionally wires the model
// client, the executor and the director.
func newApp(ctx context.Context, withModel bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if withModel {
		if err := cfg.RequireModel(); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg}
	a.debug = debug.NewLogger(cfg.Debug, cfg.DebugLogPath)
	a.cleanup = append(a.cleanup, func() { a.debug.Close() })

	a.tracer, err = observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		a.debug.Printf("Failed to initialize tracing: %v", err)
	} else if a.tracer.IsEnabled() {
		a.debug.Println("OpenTelemetry tracing initialized and enabled")
		a.cleanup = append(a.cleanup, func() { a.tracer.Shutdown(context.Background()) })
	} else {
		a.debug.Println("OpenTelemetry tracing disabled (set OTEL_TRACES_ENABLED=true to enable)")
	}

	a.store, err = store.Open(cfg.StoreDriver, cfg.StorePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open game state store: %w", err)
	}
	a.cleanup = append(a.cleanup, func() { a.store.Close() })

	a.metrics = observability.NewMetrics()
	a.registry = actions.NewRegistry(a.store, a.debug)
	a.dispatcher = dispatch.New(a.registry, a.debug)

	if !withModel {
		return a, nil
	}

	a.completions, err = openCompletions(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanup = append(a.cleanup, func() { a.completions.Close() })

	executor, err := a.executor(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	model := llm.NewService(llm.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.Model,
	}, a.debug)

	a.director = director.New(model, executor, a.store, director.Options{
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		TurnTimeout:   cfg.TurnTimeout,
		HistoryPolicy: cfg.HistoryPolicy,
		Recorder:      a.completions,
		Metrics:       a.metrics,
		State:         a.store,
	}, a.debug)

	a.debug.Printf("director ready: model %s, actions %s, store %s", cfg.Model, cfg.ActionsMode, cfg.StoreDriver)
	return a, nil
}

func (a *app) executor(ctx context.Context) (director.Executor, error) {
	if a.cfg.ActionsMode != config.ActionsMCP {
		return director.NewLocalExecutor(a.dispatcher), nil
	}

	a.debug.Printf("Connecting to MCP action server: %v", a.cfg.ActionsCommand)
	client := mcp.NewActionClient(a.debug)
	if err := client.ConnectCommand(ctx, a.cfg.ActionsCommand); err != nil {
		return nil, fmt.Errorf("failed to connect to MCP action server: %w", err)
	}
	a.cleanup = append(a.cleanup, func() { client.Close() })
	return client, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func openCompletions(cfg config.Config) (*logging.CompletionLogger, error) {
	driver := cfg.StoreDriver
	if driver == config.DriverMemory {
		driver = config.DriverCGO
	}
	logger, err := logging.NewCompletionLogger(driver, cfg.CompletionLogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completion logger: %w", err)
	}
	return logger, nil
}
