// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package metrics exposes Prometheus instrumentation for the telemetry
// pipeline: flush outcomes, pending-slot behavior, inbound message hygiene,
// and session lifecycle counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Flush trigger label values.
const (
	TriggerPeriodic  = "periodic"
	TriggerImmediate = "immediate"
	TriggerTeardown  = "teardown"
)

// Discard reason label values.
const (
	ReasonUntrustedOrigin = "origin"
	ReasonMalformed       = "malformed"
	ReasonUnknownEvent    = "unknown_event"
)

var (
	// FlushesTotal counts telemetry flushes by trigger.
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_flushes_total",
			Help: "Total telemetry flushes attempted, by trigger",
		},
		[]string{"trigger"},
	)

	// FlushErrors counts failed flushes. Failed updates stay pending and
	// are retried on the next periodic tick.
	FlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_flush_errors_total",
			Help: "Total telemetry flushes that failed",
		},
	)

	// PendingOverwrites counts pending updates superseded before they were
	// flushed (last-write-wins slot behavior).
	PendingOverwrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_pending_overwrites_total",
			Help: "Total pending updates overwritten before transmission",
		},
	)

	// MessagesDiscarded counts inbound player messages dropped at the
	// trust boundary, by reason.
	MessagesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_player_messages_discarded_total",
			Help: "Inbound player messages discarded before processing, by reason",
		},
		[]string{"reason"},
	)

	// SessionsStarted counts successfully opened watch sessions.
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_sessions_started_total",
			Help: "Total watch sessions opened",
		},
	)

	// SessionsEnded counts closed watch sessions, including completions.
	SessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_sessions_ended_total",
			Help: "Total watch sessions closed",
		},
	)

	// WatchedSeconds accumulates actively-watched time across sessions.
	WatchedSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_watched_seconds_total",
			Help: "Cumulative actively-watched seconds attributed across sessions",
		},
	)

	// BeaconSends counts best-effort teardown deliveries handed to the
	// unload-safe sink. Delivery itself is unobserved.
	BeaconSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_beacon_sends_total",
			Help: "Total pending updates handed to the best-effort teardown sink",
		},
	)
)
