package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"goalcoach/internal/adapter"
	"goalcoach/internal/gateway/config"
	"goalcoach/internal/gateway/handler"
	"goalcoach/internal/gateway/server"
	convsvc "goalcoach/internal/gateway/service/conversation"
	"goalcoach/internal/logging"
	"goalcoach/internal/memory"
)

type App struct {
	server  *server.Server
	store   *memory.Store
	service *convsvc.Service
	closers []func() error
	logger  *zap.Logger
}

// New wires the store, adapters, orchestrator and HTTP surface from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{logger: logger}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	registry := adapter.NewRegistry(adapter.NewSimulated(cfg.Adapter.SimulatedLatency))
	if key := cfg.Adapter.GeminiAPIKey; key != "" {
		gemini, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
			APIKey: key,
			Model:  cfg.Adapter.GeminiModel,
			RPS:    cfg.Adapter.GeminiRPS,
			Burst:  cfg.Adapter.GeminiBurst,
		}, logger.Named("gemini"))
		if err != nil {
			logger.Warn("gemini adapter disabled", zap.Error(err))
		} else {
			registry.Register(gemini)
		}
	}

	svc, err := convsvc.New(store, registry, adapter.NewSelector(cfg.Adapter.Name), convsvc.Config{
		AdapterTimeout:  cfg.Adapter.Timeout,
		ReplayCacheSize: cfg.Adapter.ReplayCacheSize,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to build conversation service: %w", err)
	}
	a.service = svc
	logger.Info("adapter selected",
		zap.String("requested", cfg.Adapter.Name),
		zap.String("active", svc.ActiveAdapter()),
		zap.Strings("registered", svc.Adapters()))

	conversationHandler := handler.NewConversationHandler(svc, logger)
	adminHandler := handler.NewAdminHandler(svc, cfg.AdminToken)

	mux := server.NewMux(conversationHandler, adminHandler, cfg.CORSOrigin, logger)
	a.server = server.New(cfg.Port, mux, logger)
	return a, nil
}

// NewStoreOnly opens the configured store without the HTTP surface, for CLI commands.
func NewStoreOnly(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logging.OrNop(logger)}
	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (*memory.Store, error) {
	persister, closer, err := openPersister(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer)
	return memory.New(persister, memory.WithLogger(a.logger.Named("store"))), nil
}

func (a *App) Store() *memory.Store { return a.store }

func (a *App) Service() *convsvc.Service { return a.service }

func (a *App) Start() error {
	if a.server == nil {
		return errors.New("app was built without a server")
	}
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.server != nil {
		err = a.server.Shutdown(ctx)
	}
	return errors.Join(err, a.Close())
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
