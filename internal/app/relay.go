package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/ctxlog"
	"github.com/vk/snippetrunner/internal/heartbeat"
	"github.com/vk/snippetrunner/internal/messenger"
	"github.com/vk/snippetrunner/internal/messenger/socketio"
	"github.com/vk/snippetrunner/internal/store"
)

// runRelay connects to the configured socket.io relay and keeps one
// heartbeat session alive on it until ctx is done.
func (app *App) runRelay(ctx context.Context, medium store.Medium, comp *compiler.Compiler) error {
	rc := app.config.Relay
	ctx, logger := ctxlog.With(ctx, "relay", rc.URL, "host", rc.Host)

	client, err := socketio.Connect(ctx, socketio.Config{
		URL:                rc.URL,
		Namespace:          rc.Namespace,
		Origin:             rc.Origin,
		InsecureSkipVerify: rc.InsecureSkipVerify,
		ConnectTimeout:     rc.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer client.Close()

	m, err := messenger.New(app.config.Server.ExpectedOrigin, client, logger)
	if err != nil {
		return fmt.Errorf("failed to create relay messenger: %w", err)
	}

	request := url.Values{}
	request.Set(compiler.KeyHost, rc.Host)
	request.Set(compiler.KeyRunnerURL, app.config.Server.RunnerURL)
	request.Set(compiler.KeyReturnURL, app.config.Server.ReturnURL)

	ctrl, err := heartbeat.New(heartbeat.Config{
		Host:      rc.Host,
		SnippetID: rc.SnippetID,
		Interval:  app.config.Heartbeat.Interval,
		Medium:    store.Fork(medium),
		Compiler:  comp,
		Messenger: m,
		Target:    client,
		Request:   request,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay heartbeat: %w", err)
	}
	defer ctrl.Stop()

	logger.Info("Relay heartbeat running.", "snippet", rc.SnippetID)
	select {
	case <-ctx.Done():
	case <-ctrl.Done():
	}
	logger.Info("Relay heartbeat stopped.")
	return nil
}
