// Package app wires the individual services (store, event bus, resource manager, runner
// factory, orchestrator, HTTP API, WebSocket hub) into a single runnable process.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/pipeline"
	"github.com/faceforge/orchestrator/server/api/rest"
	"github.com/faceforge/orchestrator/server/api/websocket"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/orchestrator"
	"github.com/faceforge/orchestrator/server/services/resource"
	"github.com/faceforge/orchestrator/server/store"
	"github.com/faceforge/orchestrator/server/store/migrations"
)

// appSubsystems lists every subsystem name passed to logger.LogFactory in this process, used
// to expand a single top-level log-level flag into the per-subsystem registry config the
// logger package expects.
var appSubsystems = []string{
	"App", "Orchestrator", "Runner", "EventBus", "ResourceManager", "REST", "JobAPI", "AdminAPI",
	"WebSocket", "Store", "GolangMigrateRunner",
}

// App owns every long-lived component of a running orchestrator process.
type App struct {
	config Config
	log    logger.Log

	db           *store.DB
	dbCleanup    func()
	jobStore     *store.JobStore
	bus          *event.EventBus
	resources    *resource.ResourceManager
	orchestrator *orchestrator.Orchestrator
	wsHub        *websocket.Hub
	httpServer   *rest.Server
}

// New constructs an App from config but does not start any background goroutines or listeners;
// call Start for that.
func New(ctx context.Context, config Config) (*App, error) {
	logLevelConfig := logger.LogLevelConfig(defaultLogLevelConfig(config.LogLevel, appSubsystems))
	logRegistry, err := logger.NewLogRegistry(logLevelConfig)
	if err != nil {
		return nil, fmt.Errorf("error configuring log registry: %w", err)
	}
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)
	appLog := logFactory("App")

	migrationRunner := migrations.NewOrchestratorMigrateRunner(logFactory)

	db, dbCleanup, err := store.NewDatabase(ctx, store.DatabaseConfig{
		ConnectionString:   config.DBConnectionString,
		Driver:             config.DBDriver,
		MaxIdleConnections: store.DefaultDatabaseMaxIdleConnections,
		MaxOpenConnections: store.DefaultDatabaseMaxOpenConnections,
	}, migrationRunner)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	jobStore := store.NewJobStore(db)
	clk := clock.New()

	bus := event.NewEventBus(logFactory, event.DefaultSubscriberQueueSize)
	resources := resource.NewResourceManager(config.ResourceLimits, clk)

	pl := pipeline.NoOp()

	orch := orchestrator.New(orchestrator.Config{
		AllowedRoots: config.AllowedRoots,
		JobLogDir:    config.JobLogDir,
		PollInterval: config.PollInterval,
	}, jobStore, bus, resources, pl, logFactory, clk)

	wsHub := websocket.NewHub(logFactory, bus)

	httpServer := rest.NewServer(rest.Config{
		Addr:        config.HTTPAddr,
		AllowRemote: config.AllowRemote,
		CORSOrigins: config.CORSOrigins,
	}, orch, bus, wsHub, logFactory)

	return &App{
		config:       config,
		log:          appLog,
		db:           db,
		dbCleanup:    dbCleanup,
		jobStore:     jobStore,
		bus:          bus,
		resources:    resources,
		orchestrator: orch,
		wsHub:        wsHub,
		httpServer:   httpServer,
	}, nil
}

// Start brings every background component up: the event bus dispatch loop, the WebSocket hub,
// the orchestrator's worker pool (including crash-recovery reconciliation), and the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	a.log.Infof("starting with args: %v", LogSafeArgs())
	a.bus.Start(ctx)
	a.wsHub.Start(ctx)
	a.orchestrator.Start(ctx)
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("error starting HTTP server: %w", err)
	}
	a.log.Infof("listening on %s", a.config.HTTPAddr)
	return nil
}

// Stop shuts every component down in reverse dependency order, waiting up to the context's
// deadline for in-flight work to finish.
func (a *App) Stop(ctx context.Context) error {
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Errorf("error stopping HTTP server: %v", err)
	}
	a.orchestrator.Stop()
	a.wsHub.Stop()
	a.bus.Stop()
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	return nil
}

func defaultLogLevelConfig(level string, subsystems []string) string {
	if level == "" {
		return ""
	}
	pairs := make([]string, 0, len(subsystems))
	for _, s := range subsystems {
		pairs = append(pairs, s+"="+level)
	}
	return strings.Join(pairs, ",")
}
