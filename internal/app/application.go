package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"codesession/internal/api"
	"codesession/internal/broadcast"
	"codesession/internal/config"
	"codesession/internal/database"
	"codesession/internal/revision"
	dbconfig "codesession/pkg/database"
)

// Application coordinates all server-side components.
// Initialization follows strict dependency order:
// Database → Recorder → Registry → Hub → API → Broadcast handler → HTTP
type Application struct {
	config     *config.Config
	store      *database.Store
	registry   *broadcast.Registry
	hub        *broadcast.Hub
	recorder   *revision.Recorder
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication creates an application instance with all components wired
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbCfg := dbconfig.DefaultConfig(cfg.Database.Path)
	dbCfg.ConnMaxLifetime = cfg.Database.Timeout
	dbCfg.ConnMaxIdleTime = cfg.Database.Timeout / 3

	store, err := database.NewStore(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(store.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	registry := broadcast.NewRegistry()
	hub := broadcast.NewHub(registry)
	recorder := revision.NewRecorder(store, cfg.Revision.SnapshotEvery)

	apiServer := api.NewServer(store, hub, recorder, nil)
	wsHandler := broadcast.NewHandler(hub, store)

	mux := http.NewServeMux()
	mux.Handle("/sessions", apiServer)
	mux.Handle("/sessions/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleSubscribe)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		registry:   registry,
		hub:        hub,
		recorder:   recorder,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. The hub starts first so the API layer can
// publish from the very first request; the HTTP listener follows.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting codesession server on %s", app.httpServer.Addr)

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Codesession server started successfully")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse dependency order:
// HTTP → Hub → Store
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down codesession server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.hub.Stop(); err != nil {
		log.Printf("Broadcast hub shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("Codesession server shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
