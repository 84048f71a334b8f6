// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package config loads and validates agent configuration from layered
// sources: built-in defaults, an optional YAML file, and VIEWPULSE_*
// environment variables, in increasing order of precedence.
package config

import "time"

// Config is the root agent configuration.
type Config struct {
	Backend   BackendConfig   `koanf:"backend"`
	Player    PlayerConfig    `koanf:"player"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// BackendConfig configures the watch-session REST client.
type BackendConfig struct {
	// URL is the platform backend base URL.
	URL string `koanf:"url" validate:"required,url"`

	// Token is the bearer token sent on every request. Opaque to the client.
	Token string `koanf:"token"`

	// Timeout bounds each request.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RequestsPerSecond bounds outbound request volume. Telemetry is not
	// critical-path, so the client would rather wait than flood the backend.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`

	// Burst is the rate limiter burst size.
	Burst int `koanf:"burst" validate:"gte=1"`

	// BreakerFailures is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerFailures uint32 `koanf:"breaker_failures" validate:"gte=1"`

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// PlayerConfig configures the bridge to the embedded third-party player.
type PlayerConfig struct {
	// VideoID is the lesson video this agent instance watches.
	VideoID string `koanf:"video_id" validate:"required"`

	// TransportURL is the websocket endpoint carrying the player's
	// cross-frame message channel.
	TransportURL string `koanf:"transport_url" validate:"required"`

	// TrustedOrigins is the allow-list of player-provider origins. Messages
	// from any other origin are discarded before parsing. This is a security
	// boundary; it must never be empty.
	TrustedOrigins []string `koanf:"trusted_origins" validate:"min=1,dive,required"`

	// Autoplay and Start are forwarded to the embed-url endpoint.
	Autoplay bool `koanf:"autoplay"`
	Start    int  `koanf:"start" validate:"gte=0"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration `koanf:"read_timeout" validate:"gt=0"`
}

// TelemetryConfig configures the batcher and watch-time accounting.
type TelemetryConfig struct {
	// FlushInterval is the periodic flush timer period.
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gt=0"`

	// WatchClamp is the per-event ceiling on accrued watch time. It guards
	// against over-counting across large wall-clock gaps (backgrounded tabs,
	// suspended processes). Configurable rather than load-bearing.
	WatchClamp time.Duration `koanf:"watch_clamp" validate:"gt=0"`

	// FlushTimeout bounds a single flush request, periodic or immediate.
	FlushTimeout time.Duration `koanf:"flush_timeout" validate:"gt=0"`
}

// ServerConfig configures the ops listener (health, readiness, metrics).
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Addr            string        `koanf:"addr"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with production defaults. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:               "",
			Token:             "",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			BreakerFailures:   3,
			BreakerTimeout:    60 * time.Second,
		},
		Player: PlayerConfig{
			VideoID:      "",
			TransportURL: "",
			TrustedOrigins: []string{
				"https://player.lessonlab.io",
				"https://embed.lessonlab.io",
			},
			Autoplay:         false,
			Start:            0,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			FlushInterval: 10 * time.Second,
			WatchClamp:    2 * time.Second,
			FlushTimeout:  10 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:9477",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
