// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package models defines the domain types shared across the telemetry
// pipeline: the watch session, the pending engagement delta, and the
// mirrored player state.
package models

import "time"

// EventKind is the semantic kind of a watch-session event.
type EventKind string

// Watch-session event kinds. These are the values accepted by the backend's
// update endpoint as event_type.
const (
	EventPlay     EventKind = "play"
	EventPause    EventKind = "pause"
	EventSeek     EventKind = "seek"
	EventBuffer   EventKind = "buffer"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventPlay, EventPause, EventSeek, EventBuffer, EventProgress, EventComplete, EventError:
		return true
	}
	return false
}

// AccruesWatchTime reports whether elapsed wall time since the previous
// event counts as actively-watched time. Pauses and buffering do not accrue.
func (k EventKind) AccruesWatchTime() bool {
	return k == EventPlay || k == EventProgress
}

// Urgent reports whether the event must be flushed immediately rather than
// waiting for the periodic timer. These are high-value, loss-sensitive events.
func (k EventKind) Urgent() bool {
	return k == EventComplete || k == EventSeek || k == EventError
}

// WatchSession is one continuous engagement between a user and one video.
// It is created on start, mutated by player-derived events, and destroyed
// on end or completion.
type WatchSession struct {
	// SessionID is the opaque token issued by the backend on start.
	SessionID string

	// VideoID identifies the video being watched. Immutable for the
	// session's lifetime.
	VideoID string

	// Position is the last known playback offset in seconds. Non-decreasing
	// except on explicit seeks.
	Position float64

	// TotalWatched is cumulative actively-watched seconds. Non-decreasing.
	TotalWatched float64

	// LastEvent is the most recent semantic event applied to the session.
	LastEvent EventKind

	// StartedAt is when the session was opened.
	StartedAt time.Time

	// LastFlushedAt is when telemetry for this session last left the client.
	LastFlushedAt time.Time
}

// PendingUpdate is the not-yet-transmitted engagement delta for a session.
// At most one exists per session; a newer update overwrites the previous one.
type PendingUpdate struct {
	SessionID    string
	Position     float64
	Event        EventKind
	TotalWatched float64
}

// PlayerState is a read-only projection of the embedded player's reported
// state. The player owns it; this client only mirrors what the last decoded
// message said and never assumes it is authoritative between messages.
type PlayerState struct {
	CurrentTime float64
	Duration    float64
	StateCode   int
	Volume      float64
	Muted       bool
}

// EmbedInfo is the signed, time-limited embed target issued by the backend
// for a video. Opaque to this client beyond display and player attachment.
type EmbedInfo struct {
	EmbedURL          string  `json:"embed_url"`
	SignedURL         string  `json:"signed_url"`
	Duration          float64 `json:"duration"`
	DurationFormatted string  `json:"duration_formatted"`
}
