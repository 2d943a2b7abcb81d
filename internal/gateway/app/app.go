package app

import (
	"context"
	"fmt"

	"shelfpilot/internal/gateway/config"
	"shelfpilot/internal/gateway/handler"
	"shelfpilot/internal/gateway/repository/automation"
	"shelfpilot/internal/gateway/server"
	"shelfpilot/internal/gateway/service/notify"
	"shelfpilot/internal/gateway/service/session"
	"shelfpilot/internal/gateway/service/workitem"
)

type App struct {
	server *server.Server
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Dependencies
	store, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	client, err := automation.NewClient(automation.ClientConfig{
		BaseURL:    cfg.Automation.BaseURL,
		Retries:    cfg.Automation.Retries,
		RetryDelay: cfg.Automation.RetryDelay,
	}, automation.StaticTokenSource(cfg.Automation.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize automation client: %w", err)
	}

	hub := notify.NewHub()
	workitemSvc := workitem.New(workitem.Config{
		Activity:        cfg.Automation.Activity,
		CallbackBaseURL: cfg.Callback.BaseURL,
	}, client, store, hub, nil)
	sessions := session.NewRegistry(workitemSvc, cfg.Session.PollTimeout)
	workitemSvc.AttachSessions(sessions)

	workItemHandler := handler.NewWorkItemHandler(workitemSvc)
	callbackHandler := handler.NewCallbackHandler(workitemSvc)

	// Routing & Server
	mux := server.NewMux(workItemHandler, callbackHandler, hub)
	srv := server.New(cfg.Port, mux)

	return &App{
		server: srv,
	}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
