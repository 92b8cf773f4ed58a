package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentfacts/expense-compliance/internal/api"
	"github.com/agentfacts/expense-compliance/internal/audit"
	"github.com/agentfacts/expense-compliance/internal/compliance"
	"github.com/agentfacts/expense-compliance/internal/config"
	"github.com/agentfacts/expense-compliance/internal/observability"
	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/compiler"
	"github.com/agentfacts/expense-compliance/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the compliance HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Application holds all the components of the service.
type Application struct {
	cfg         *config.Config
	engine      *compliance.Engine
	workspaces  *workspace.Manager
	compiler    *compiler.Compiler
	auditStore  *audit.Store
	auditWriter *audit.Writer
	apiServer   *api.Server

	// Observability
	metrics   *observability.Metrics
	health    *observability.Health
	obsServer *observability.Server
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	log.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting compliance service")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	app, err := newApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer stopCancel()
		_ = app.Stop(stopCtx)
		return fmt.Errorf("failed to start application: %w", err)
	}

	log.Info().
		Str("address", cfg.Server.Listen.Address).
		Int("port", cfg.Server.Listen.Port).
		Bool("audit", cfg.Audit.Enabled).
		Bool("cross_check", cfg.Policy.CrossCheck).
		Int("workers", cfg.Engine.Workers).
		Msg("Compliance service ready")

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

func newApplication(cfg *config.Config) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		compiler: compiler.NewCompiler(),
		metrics:  observability.NewMetrics(cfg.Metrics.Namespace),
		health:   observability.NewHealth(version),
	}

	app.engine = compliance.NewEngine(compliance.Config{
		Workers:           cfg.Engine.Workers,
		ParallelThreshold: cfg.Engine.ParallelThreshold,
		ChunkSize:         cfg.Engine.ChunkSize,
		Cache: compliance.CacheConfig{
			Enabled:    cfg.Engine.Cache.Enabled,
			TTL:        cfg.Engine.Cache.TTL,
			MaxEntries: cfg.Engine.Cache.MaxEntries,
		},
	})
	app.engine.AddObserver(app.metrics)

	app.workspaces = workspace.NewManager(workspace.ManagerConfig{
		TTL:             cfg.Workspace.TTL,
		CleanupInterval: cfg.Workspace.CleanupInterval,
		MaxWorkspaces:   cfg.Workspace.MaxWorkspaces,
	})

	// Initialize audit store and writer (if enabled)
	if cfg.Audit.Enabled {
		var err error
		app.auditStore, err = audit.NewStore(audit.StoreConfig{
			DBPath: cfg.Audit.DBPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audit store: %w", err)
		}

		app.auditWriter = audit.NewWriter(app.auditStore, audit.WriterConfig{
			BufferSize:    cfg.Audit.BufferSize,
			FlushInterval: cfg.Audit.FlushInterval,
		})
		app.auditWriter.SetObserver(app.metrics)
	}

	handler := api.NewHandler(api.Deps{
		Engine:       app.engine,
		Workspaces:   app.workspaces,
		Compiler:     app.compiler,
		AuditStore:   app.auditStore,
		AuditWriter:  app.auditWriter,
		Metrics:      app.metrics,
		CrossCheck:   cfg.Policy.CrossCheck,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	app.apiServer = api.NewServer(cfg.Server, handler)

	// Register health checkers
	app.health.RegisterChecker("engine", observability.EngineChecker(app.engine.IsReady))
	app.health.RegisterChecker("workspaces", observability.CapacityChecker(
		"workspaces", app.workspaces.ActiveCount, cfg.Workspace.MaxWorkspaces, 0.9))
	if app.auditStore != nil {
		app.health.RegisterChecker("audit_store", observability.DatabaseChecker(app.auditStore.Ping))
		app.health.RegisterChecker("audit_writer", observability.DropChecker(func() int64 {
			return app.auditWriter.Stats().Dropped
		}))
	}

	app.obsServer = observability.NewServer(observability.ServerConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsAddress: cfg.Metrics.Address,
		MetricsPort:    cfg.Metrics.Port,
		MetricsPath:    cfg.Metrics.Path,
		HealthEnabled:  cfg.Health.Enabled,
		HealthAddress:  cfg.Health.Address,
		HealthPort:     cfg.Health.Port,
		LivenessPath:   cfg.Health.LivenessPath,
		ReadinessPath:  cfg.Health.ReadinessPath,
	}, app.metrics, app.health)

	return app, nil
}

// Start starts all application components.
func (app *Application) Start(ctx context.Context) error {
	app.workspaces.Start(ctx)

	// Preload rule documents, one workspace each
	if app.cfg.Policy.PolicyDir != "" {
		if err := app.preloadDocuments(ctx); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}

	if app.auditWriter != nil {
		if days := app.cfg.Audit.RetentionDays; days > 0 {
			pruned, err := app.auditStore.Prune(ctx, time.Duration(days)*24*time.Hour)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to prune verdict log")
			} else if pruned > 0 {
				log.Info().Int64("pruned", pruned).Int("retention_days", days).Msg("Pruned verdict log")
			}
		}
		app.auditWriter.Start()
		log.Info().
			Str("db_path", app.cfg.Audit.DBPath).
			Msg("Verdict audit logging enabled")
	}

	if err := app.apiServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	if err := app.obsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}

	// Mark as ready for health checks
	app.health.SetReady(true)

	return nil
}

func (app *Application) preloadDocuments(ctx context.Context) error {
	docs, err := policy.NewLoader(app.cfg.Policy.PolicyDir).LoadDocuments()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ws, err := app.workspaces.Create(ctx, docs[name], nil)
		if err != nil {
			return fmt.Errorf("document %s: %w", name, err)
		}
		app.metrics.RecordWorkspaceCreated(app.workspaces.ActiveCount())
		log.Info().
			Str("document", name).
			Str("workspace_id", ws.ID).
			Int("rules", len(docs[name].Rules)).
			Msg("Preloaded rule document")
	}
	return nil
}

// Stop gracefully stops all application components.
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("Starting graceful shutdown...")

	// Mark as not ready immediately
	app.health.SetReady(false)

	if err := app.obsServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error stopping observability server")
	}

	// Stop accepting requests before the components they use
	if err := app.apiServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error stopping API server")
	}

	app.workspaces.Stop()
	app.engine.Close()

	// Stop audit writer (flushes remaining records)
	if app.auditWriter != nil {
		app.auditWriter.Stop()
	}

	if app.auditStore != nil {
		if err := app.auditStore.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing audit store")
		}
	}

	return nil
}
