// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package session owns the watch-session state machine and orchestrates the
// pipeline around it: player events become telemetry updates, updates are
// batched and flushed, and teardown hands the last pending delta to the
// best-effort sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/lessonlab/viewpulse/internal/api"
	"github.com/lessonlab/viewpulse/internal/beacon"
	"github.com/lessonlab/viewpulse/internal/logging"
	"github.com/lessonlab/viewpulse/internal/metrics"
	"github.com/lessonlab/viewpulse/internal/models"
	"github.com/lessonlab/viewpulse/internal/player"
	"github.com/lessonlab/viewpulse/internal/telemetry"
)

// State is the lifecycle state of the manager.
type State int

// Lifecycle states: Idle -> Starting -> Active -> Ending -> Idle.
// A failed start returns to Idle with the error surfaced to the caller.
const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateEnding
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotActive reports an operation that requires an active session.
// Telemetry callers treat it as a silent no-op.
var ErrNotActive = errors.New("no active watch session")

// Config configures a manager for one (video, player-instance) pair.
type Config struct {
	// VideoID is the video this manager tracks. One manager tracks one
	// video; at most one session is active at a time.
	VideoID string

	// FlushInterval is the periodic telemetry flush period.
	// Default: 10s
	FlushInterval time.Duration

	// FlushTimeout bounds each flush or end request.
	// Default: 10s
	FlushTimeout time.Duration

	// WatchClamp caps the watch time attributed per event, guarding
	// against over-counting across wall-clock gaps.
	// Default: 2s
	WatchClamp time.Duration
}

// Manager owns one watch session's lifecycle. All mutable pipeline state
// lives in fields of this struct with an explicit create/teardown
// lifecycle; there is no ambient package state.
type Manager struct {
	backend api.Backend
	sink    beacon.Sink
	batcher *telemetry.Batcher
	cfg     Config

	// now is injectable for watch-time accounting tests.
	now func() time.Time

	mu          sync.Mutex
	state       State
	session     models.WatchSession
	lastEventAt time.Time
}

// NewManager creates a manager. Call Run to start the periodic flush loop
// and Teardown when the host goes away.
func NewManager(backend api.Backend, sink beacon.Sink, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if cfg.WatchClamp <= 0 {
		cfg.WatchClamp = 2 * time.Second
	}

	m := &Manager{
		backend: backend,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
		state:   StateIdle,
	}
	m.batcher = telemetry.NewBatcher(cfg.FlushInterval, cfg.FlushTimeout, m.flushUpdate)
	return m
}

// Run starts the periodic flush loop. The loop stops when ctx is canceled
// or Teardown is called.
func (m *Manager) Run(ctx context.Context) {
	m.batcher.Start(ctx)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the active session. The second return is false
// when no session is active.
func (m *Manager) Session() (models.WatchSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return models.WatchSession{}, false
	}
	return m.session, true
}

// Embed fetches the signed embed target for this manager's video.
func (m *Manager) Embed(ctx context.Context, autoplay bool, start int) (*models.EmbedInfo, error) {
	return m.backend.EmbedURL(ctx, m.cfg.VideoID, autoplay, start)
}

// Start opens a watch session. Idempotent while a session is starting or
// active: no duplicate backend call is made and the existing session is
// retained. A failed start leaves the manager Idle and surfaces the error;
// the caller may retry.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateStarting, StateActive:
		m.mu.Unlock()
		return nil
	case StateEnding:
		m.mu.Unlock()
		return fmt.Errorf("start session: previous session still ending")
	case StateIdle:
	}
	m.state = StateStarting
	m.mu.Unlock()

	resp, err := m.backend.StartWatch(ctx, m.cfg.VideoID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStarting {
		// Torn down while the start call was in flight. If the backend
		// opened a session anyway, close it best-effort so it is not
		// left to the server-side timeout.
		if err == nil && resp != nil {
			sessionID := resp.SessionID
			go func() {
				endCtx, cancel := context.WithTimeout(context.Background(), m.cfg.FlushTimeout)
				defer cancel()
				if endErr := m.backend.EndWatch(endCtx, sessionID); endErr != nil {
					logging.Warn().Err(endErr).
						Str("session_id", sessionID).
						Msg("abandoning session opened during teardown")
				}
			}()
		}
		return fmt.Errorf("start session: manager no longer starting")
	}
	if err != nil {
		m.state = StateIdle
		return fmt.Errorf("start session: %w", err)
	}

	now := m.now()
	m.session = models.WatchSession{
		SessionID: resp.SessionID,
		VideoID:   m.cfg.VideoID,
		StartedAt: now,
	}
	m.lastEventAt = now
	m.state = StateActive

	metrics.SessionsStarted.Inc()
	logging.Info().
		Str("video_id", m.cfg.VideoID).
		Str("session_id", resp.SessionID).
		Msg("watch session started")
	return nil
}

// Update applies one semantic event to the active session and stages the
// resulting delta for transmission. Returns ErrNotActive outside Active.
//
// Watch-time accounting: the elapsed wall time since the previous event
// accrues to TotalWatched only for play/progress events, clamped per call
// to WatchClamp so backgrounded tabs and suspended processes cannot inflate
// the total.
//
// Urgent events (complete, seek, error) flush immediately instead of
// waiting for the periodic timer. Flush failures stay invisible here; the
// update is retained for the next tick.
func (m *Manager) Update(ctx context.Context, position float64, event models.EventKind) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}

	now := m.now()
	elapsed := now.Sub(m.lastEventAt)
	m.lastEventAt = now

	if event.AccruesWatchTime() && elapsed > 0 {
		if elapsed > m.cfg.WatchClamp {
			elapsed = m.cfg.WatchClamp
		}
		seconds := elapsed.Seconds()
		m.session.TotalWatched += seconds
		metrics.WatchedSeconds.Add(seconds)
	}

	// Position moves backward only on explicit seeks.
	if event == models.EventSeek || position > m.session.Position {
		m.session.Position = position
	}
	m.session.LastEvent = event

	update := models.PendingUpdate{
		SessionID:    m.session.SessionID,
		Position:     m.session.Position,
		Event:        event,
		TotalWatched: m.session.TotalWatched,
	}
	m.mu.Unlock()

	m.batcher.Set(update)

	if event.Urgent() {
		if err := m.batcher.FlushNow(ctx); err != nil {
			logging.Debug().Err(err).Str("event", string(event)).Msg("immediate flush failed, update retained")
		}
	}
	return nil
}

// End flushes pending telemetry, closes the session with the backend, and
// returns the manager to Idle. The local session is cleared even when the
// end call fails: telemetry loss is preferable to a stuck session, so the
// failure is logged and never retried.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	m.state = StateEnding
	sessionID := m.session.SessionID
	m.mu.Unlock()

	if err := m.batcher.FlushNow(ctx); err != nil {
		logging.Debug().Err(err).Msg("final flush failed before end")
	}
	if err := m.backend.EndWatch(ctx, sessionID); err != nil {
		logging.Warn().Err(err).Str("session_id", sessionID).Msg("end call failed, clearing local session anyway")
	}

	m.mu.Lock()
	m.state = StateIdle
	m.session = models.WatchSession{}
	m.mu.Unlock()

	metrics.SessionsEnded.Inc()
	logging.Info().Str("session_id", sessionID).Msg("watch session ended")
	return nil
}

// Teardown cancels the periodic flush loop and hands any pending update to
// the best-effort sink. It never awaits an in-flight flush and never errors;
// this is the page-unload path.
func (m *Manager) Teardown() {
	m.batcher.Stop()

	if update, ok := m.batcher.Take(); ok && update.SessionID != "" {
		payload, err := json.Marshal(api.UpdateRequestFor(update))
		if err != nil {
			logging.Debug().Err(err).Msg("teardown payload encode failed")
		} else {
			metrics.FlushesTotal.WithLabelValues(metrics.TriggerTeardown).Inc()
			m.sink.Send(api.WatchUnloadPath(update.SessionID), payload)
		}
	}

	m.mu.Lock()
	m.state = StateIdle
	m.session = models.WatchSession{}
	m.mu.Unlock()
}

// BindBridge subscribes the manager to a player bridge. State changes and
// playback telemetry become session events:
//
//	playing   -> play (opens a session when none is active)
//	paused    -> pause
//	buffering -> buffer
//	ended     -> complete, then the session is closed; a later play starts
//	             a fresh session
//	info      -> progress
func (m *Manager) BindBridge(ctx context.Context, bridge *player.Bridge) {
	bridge.OnStateChange(func(code player.StateCode) {
		event, ok := code.Event()
		if !ok {
			return
		}

		switch event {
		case models.EventPlay:
			if m.State() == StateIdle {
				if err := m.Start(ctx); err != nil {
					logging.Warn().Err(err).Msg("session start from player event failed")
					return
				}
			}
			m.noteEvent(ctx, bridge.Snapshot().CurrentTime, event)

		case models.EventComplete:
			m.noteEvent(ctx, bridge.Snapshot().CurrentTime, event)
			if err := m.End(ctx); err != nil && !errors.Is(err, ErrNotActive) {
				logging.Warn().Err(err).Msg("session end on completion failed")
			}

		default:
			m.noteEvent(ctx, bridge.Snapshot().CurrentTime, event)
		}
	})

	bridge.OnInfo(func(info player.PlayerInfo) {
		m.noteEvent(ctx, info.CurrentTime, models.EventProgress)
	})
}

// noteEvent applies an event, treating ErrNotActive as a silent no-op.
// Telemetry-path failures are invisible by design.
func (m *Manager) noteEvent(ctx context.Context, position float64, event models.EventKind) {
	if err := m.Update(ctx, position, event); err != nil && !errors.Is(err, ErrNotActive) {
		logging.Debug().Err(err).Str("event", string(event)).Msg("session update failed")
	}
}

// flushUpdate is the batcher's FlushFunc: it transmits one delta and stamps
// the session's last flush time on success.
func (m *Manager) flushUpdate(ctx context.Context, update models.PendingUpdate) error {
	if err := m.backend.UpdateWatch(ctx, update.SessionID, api.UpdateRequestFor(update)); err != nil {
		return err
	}

	m.mu.Lock()
	if m.session.SessionID == update.SessionID {
		m.session.LastFlushedAt = m.now()
	}
	m.mu.Unlock()
	return nil
}
