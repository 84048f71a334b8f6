// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package main is the entry point for the ViewPulse watch-session agent.
//
// The agent sits between an embedded third-party video player and the
// LessonLab platform backend. It mirrors player notifications into
// watch-session telemetry, batches progress updates, and reports them
// over the backend's REST watch API.
//
// The agent initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file, and
//     environment variables (Koanf v2)
//  2. Backend client: rate-limited, circuit-broken REST client
//  3. Session manager: lifecycle state machine and telemetry batcher
//  4. Supervisor tree: player bridge, flush loop, and ops listener
//     as supervised services
//
// # Configuration
//
// All settings come from VIEWPULSE_-prefixed environment variables or a
// YAML file named by VIEWPULSE_CONFIG. The minimum viable configuration:
//
//	export VIEWPULSE_BACKEND_URL=https://api.lessonlab.io
//	export VIEWPULSE_BACKEND_TOKEN=your-api-token
//	export VIEWPULSE_PLAYER_VIDEO_ID=lesson-42
//	export VIEWPULSE_PLAYER_TRANSPORT_URL=wss://player-gw.lessonlab.io/channel
//	./viewpulse-agent
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor tree
// drains, then any still-pending telemetry update is handed to the
// fire-and-forget beacon sink so the final position survives exit.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lessonlab/viewpulse/internal/api"
	"github.com/lessonlab/viewpulse/internal/beacon"
	"github.com/lessonlab/viewpulse/internal/config"
	"github.com/lessonlab/viewpulse/internal/logging"
	"github.com/lessonlab/viewpulse/internal/player"
	"github.com/lessonlab/viewpulse/internal/server"
	"github.com/lessonlab/viewpulse/internal/session"
	"github.com/lessonlab/viewpulse/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("backend_url", cfg.Backend.URL).
		Str("video_id", cfg.Player.VideoID).
		Strs("trusted_origins", cfg.Player.TrustedOrigins).
		Msg("Starting ViewPulse agent")

	client := api.NewClient(cfg.Backend)
	sink := beacon.NewHTTPSink(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)

	manager := session.NewManager(client, sink, session.Config{
		VideoID:       cfg.Player.VideoID,
		FlushInterval: cfg.Telemetry.FlushInterval,
		FlushTimeout:  cfg.Telemetry.FlushTimeout,
		WatchClamp:    cfg.Telemetry.WatchClamp,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resolve the embed target up front so a misconfigured video id
	// surfaces before the player connects.
	embedCtx, cancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
	embed, err := manager.Embed(embedCtx, cfg.Player.Autoplay, cfg.Player.Start)
	cancel()
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to resolve embed URL, continuing")
	} else {
		logging.Info().
			Str("embed_url", embed.EmbedURL).
			Float64("duration", embed.Duration).
			Msg("Embed target resolved")
	}

	origins := player.NewOriginSet(cfg.Player.TrustedOrigins)
	dial := func(ctx context.Context) (player.MessageTransport, error) {
		return player.DialWebSocket(ctx, cfg.Player.TransportURL,
			cfg.Player.HandshakeTimeout, cfg.Player.ReadTimeout)
	}
	bridgeSvc := supervisor.NewBridgeService(dial, origins, func(b *player.Bridge) {
		manager.BindBridge(ctx, b)
	})

	tree := supervisor.NewTree(
		slog.New(logging.NewSlogHandler()),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)
	tree.AddPipelineService(bridgeSvc)
	tree.AddPipelineService(supervisor.NewFlushLoopService(manager))

	if cfg.Server.Enabled {
		handler := server.NewHandler(readiness(client), status(manager))
		tree.AddOpsService(server.New(cfg.Server, handler))
	}

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited")
	}

	// Final handoff: any pending update leaves as a beacon. Drain keeps
	// the process alive long enough for the request to go out.
	manager.Teardown()
	sink.Drain(cfg.Backend.Timeout)
	logging.Info().Msg("Agent stopped")
}

// readiness reports not-ready while the backend circuit is open.
func readiness(client *api.Client) server.ReadyFunc {
	return func(context.Context) error {
		if client.IsCircuitOpen() {
			return errors.New("backend circuit open")
		}
		return nil
	}
}

// status snapshots the session manager for the ops listener.
func status(manager *session.Manager) server.StatusFunc {
	return func() server.SessionStatus {
		st := server.SessionStatus{State: manager.State().String()}
		if sess, ok := manager.Session(); ok {
			st.SessionID = sess.SessionID
			st.VideoID = sess.VideoID
			st.Position = sess.Position
			st.TotalWatched = sess.TotalWatched
		}
		return st
	}
}
