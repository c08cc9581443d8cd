package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/snippetrunner/internal/config"
	"github.com/vk/snippetrunner/internal/ctxlog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	ctx        context.Context
	logger     *slog.Logger
	appConfig  *Config
	config     *config.Model
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads the runner
// configuration through loader and returns an App with its own isolated
// logger. A configuration that cannot be loaded is a fatal startup error and
// panics.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfgModel, err := loader.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	if appConfig.Addr != "" {
		cfgModel.Server.Addr = appConfig.Addr
	}
	logger.Debug("Configuration loaded.", "path", appConfig.ConfigPath, "addr", cfgModel.Server.Addr, "store", cfgModel.Store.Driver)

	return &App{
		outW:      outW,
		ctx:       ctx,
		logger:    logger,
		appConfig: appConfig,
		config:    cfgModel,
	}
}

// Model returns the loaded configuration. This is primarily for testing.
func (app *App) Model() *config.Model {
	return app.config
}
