package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkoval/atelier/internal/config"
	"github.com/dkoval/atelier/internal/history"
	"github.com/dkoval/atelier/internal/httpapi"
	"github.com/dkoval/atelier/internal/inference"
	"github.com/dkoval/atelier/internal/lifecycle"
	"github.com/dkoval/atelier/internal/observability"
	"github.com/dkoval/atelier/internal/supervisor"
	"github.com/dkoval/atelier/internal/workerpool"
)

type BuildResult struct {
	Config     config.Config
	Logger     zerolog.Logger
	API        *httpapi.Server
	Manager    *lifecycle.Manager
	Supervisor *supervisor.Supervisor
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// NewLogger builds the service logger. Development gets a human-readable
// console writer at debug level; anything else gets JSON at info level.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	var out io.Writer = os.Stdout
	if strings.EqualFold(appEnv, "development") {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "atelier").Logger()
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := NewLogger(cfg.AppEnv)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("data root init failed: %w", err)
	}

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	var engine inference.Engine
	switch cfg.EngineMode {
	case "command":
		engine = inference.NewCommandEngine(cfg.EngineCommand, cfg.EngineTimeout)
	case "http":
		engine = inference.NewHTTPEngine(cfg.EngineHTTPURL, cfg.EngineTimeout)
	default:
		engine = inference.NewMockEngine()
	}

	// Inference runs one request at a time; everything else queues.
	sup := supervisor.New(workerpool.New(1), logger)

	manager := lifecycle.NewManager(lifecycle.Config{
		DataRoot:            cfg.DataRoot,
		MaxAssetsPerRequest: cfg.MaxAssetsPerRequest,
		EventQueueSize:      cfg.EventQueueSize,
		ConversationTTL:     cfg.ConversationTTL,
	}, engine, sup, store, metrics, logger)

	api := httpapi.New(cfg, manager, store, metrics, logger)

	cleanup := func() error {
		manager.Close()
		if err := store.Close(); err != nil {
			return fmt.Errorf("history store close failed: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		Logger:     logger,
		API:        api,
		Manager:    manager,
		Supervisor: sup,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}
