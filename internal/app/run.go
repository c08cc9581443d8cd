package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/ctxlog"
	"github.com/vk/snippetrunner/internal/editor"
	"github.com/vk/snippetrunner/internal/library"
	"github.com/vk/snippetrunner/internal/render"
	"github.com/vk/snippetrunner/internal/server"
	"github.com/vk/snippetrunner/internal/store"
)

// Run serves the runner until ctx is done.
func (app *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, app.logger)
	app.ctx = ctx
	app.logger.Debug("App.Run method started.")

	medium, closeMedium, err := openMedium(ctx, app.config.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeMedium(); err != nil {
			app.logger.Warn("Closing storage failed.", "error", err)
		}
	}()

	app.healthCheckServer(medium)
	defer app.closeHealthCheckServer()

	srv, comp, err := app.buildServer(medium)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if app.config.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.runRelay(ctx, medium, comp); err != nil {
				app.logger.Error("Relay heartbeat failed.", "error", err)
			}
		}()
	}

	app.logger.Info("🚀 Snippet runner ready.", "addr", app.config.Server.Addr, "origin", app.config.Server.ExpectedOrigin)
	err = srv.ListenAndServe(ctx, app.config.Server.Addr)
	wg.Wait()
	app.logger.Debug("App.Run method finished.")
	return err
}

// buildServer wires the compiler, renderer and editor over medium.
func (app *App) buildServer(medium store.Medium) (*server.Server, *compiler.Compiler, error) {
	resolver, err := newResolver(app.config.Libraries.CDN, app.config.Libraries.HostRuntimeNames, app.config.Libraries.HostRuntimeURL)
	if err != nil {
		return nil, nil, err
	}
	renderer, err := render.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load templates: %w", err)
	}
	comp, err := compiler.New(compiler.Options{
		Resolver: resolver,
		Inner:    renderer,
		Trusted:  app.config.Server.FunctionsTrusted(),
		Logger:   app.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	srv, err := server.New(server.Config{
		ExpectedOrigin:    app.config.Server.ExpectedOrigin,
		RunnerURL:         app.config.Server.RunnerURL,
		ReturnURL:         app.config.Server.ReturnURL,
		HeartbeatInterval: app.config.Heartbeat.Interval,
		RateLimit:         app.config.Server.RateLimit,
		RateBurst:         app.config.Server.RateBurst,
	}, server.Deps{
		Medium:   medium,
		Editor:   editor.New(store.Fork(medium), editor.WithLogger(app.logger)),
		Compiler: comp,
		Renderer: renderer,
		Logger:   app.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, comp, nil
}

// newResolver applies the library overrides to the resolver defaults.
func newResolver(cdn string, names []string, runtimeURL string) (*library.Resolver, error) {
	var tmpl *library.URLTemplate
	if cdn != "" {
		t, err := library.ParseTemplate(cdn)
		if err != nil {
			return nil, err
		}
		tmpl = t
	}
	runtime := library.DefaultHostRuntime
	if len(names) > 0 {
		runtime.ScriptNames = names
	}
	if runtimeURL != "" {
		runtime.URL = runtimeURL
	}
	return library.NewResolver(tmpl, runtime), nil
}
