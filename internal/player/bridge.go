// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package player

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/lessonlab/viewpulse/internal/logging"
	"github.com/lessonlab/viewpulse/internal/metrics"
	"github.com/lessonlab/viewpulse/internal/models"
)

// Bridge forwards decoded player notifications to registered callbacks and
// posts control commands back over the same channel.
//
// Inbound messages pass two gates before any callback fires:
//  1. the frame's origin must be in the trusted allow-list, and
//  2. the payload must decode into a known message kind.
//
// Failing either gate drops the message silently (counted, never raised).
//
// Messages are processed strictly in delivery order on a single goroutine,
// so callbacks never run concurrently with each other.
type Bridge struct {
	transport MessageTransport
	origins   OriginSet

	callbackMu sync.RWMutex
	onReady    func()
	onState    func(code StateCode)
	onInfo     func(info PlayerInfo)

	stateMu sync.RWMutex
	state   models.PlayerState

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBridge creates a bridge over the given transport. Call Attach to start
// processing inbound messages.
func NewBridge(transport MessageTransport, origins OriginSet) *Bridge {
	return &Bridge{
		transport: transport,
		origins:   origins,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// OnReady registers the callback for the player's onReady notification.
func (b *Bridge) OnReady(fn func()) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onReady = fn
}

// OnStateChange registers the callback for decoded state transitions.
func (b *Bridge) OnStateChange(fn func(code StateCode)) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onState = fn
}

// OnInfo registers the callback for continuous playback telemetry.
func (b *Bridge) OnInfo(fn func(info PlayerInfo)) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onInfo = fn
}

// Attach starts the inbound message listener.
func (b *Bridge) Attach(ctx context.Context) {
	b.wg.Add(1)
	go b.listen(ctx)
}

// Detach stops the listener and closes the transport. Safe to call more
// than once. Any command write in flight is allowed to complete or fail on
// its own; Detach never waits on it.
func (b *Bridge) Detach() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		if err := b.transport.Close(); err != nil {
			logging.Debug().Err(err).Msg("player transport close")
		}
	})
	b.wg.Wait()
}

// Done is closed when the inbound listener exits, whether from Detach,
// context cancellation, or transport failure. Never closes before Attach.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Snapshot returns the last mirrored player state. The player owns the
// authoritative state; this is only what the most recent message reported.
func (b *Bridge) Snapshot() models.PlayerState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// Play asks the player to start playback. Fire-and-forget.
func (b *Bridge) Play() error {
	return b.send(funcPlay)
}

// Pause asks the player to pause playback. Fire-and-forget.
func (b *Bridge) Pause() error {
	return b.send(funcPause)
}

// SeekTo asks the player to seek to the given offset in seconds.
// Fire-and-forget.
func (b *Bridge) SeekTo(seconds float64) error {
	return b.send(funcSeek, seconds)
}

func (b *Bridge) send(fn string, args ...any) error {
	data, err := EncodeCommand(fn, args...)
	if err != nil {
		return err
	}
	return b.transport.Write(data)
}

// listen reads frames until the transport fails or the bridge is detached.
func (b *Bridge) listen(ctx context.Context) {
	defer close(b.done)
	defer b.wg.Done()

	for {
		data, err := b.transport.Read()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-b.stopChan:
			default:
				if isExpectedClose(err) {
					logging.Info().Msg("player channel closed")
				} else {
					logging.Warn().Err(err).Msg("player channel read failed")
				}
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		default:
		}

		b.handleRaw(data)
	}
}

// handleRaw applies the trust and parse gates, updates the mirrored state,
// and routes the message to its callback.
func (b *Bridge) handleRaw(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.MessagesDiscarded.WithLabelValues(metrics.ReasonMalformed).Inc()
		logging.Debug().Err(err).Msg("discarding unframed player message")
		return
	}

	if !b.origins.Contains(frame.Origin) {
		metrics.MessagesDiscarded.WithLabelValues(metrics.ReasonUntrustedOrigin).Inc()
		logging.Debug().Str("origin", frame.Origin).Msg("discarding message from untrusted origin")
		return
	}

	msg, err := DecodeMessage(frame.Data)
	if err != nil {
		metrics.MessagesDiscarded.WithLabelValues(metrics.ReasonMalformed).Inc()
		logging.Debug().Err(err).Msg("discarding malformed player message")
		return
	}

	b.callbackMu.RLock()
	defer b.callbackMu.RUnlock()

	switch msg.Kind {
	case KindReady:
		logging.Debug().Msg("player ready")
		if b.onReady != nil {
			b.onReady()
		}

	case KindStateChange:
		if !msg.Code.Known() {
			metrics.MessagesDiscarded.WithLabelValues(metrics.ReasonUnknownEvent).Inc()
			logging.Debug().Int("code", int(msg.Code)).Msg("discarding unknown state code")
			return
		}
		b.stateMu.Lock()
		b.state.StateCode = int(msg.Code)
		b.stateMu.Unlock()
		logging.Debug().Stringer("state", msg.Code).Msg("player state change")
		if b.onState != nil {
			b.onState(msg.Code)
		}

	case KindInfo:
		b.stateMu.Lock()
		b.state.CurrentTime = msg.Info.CurrentTime
		if msg.Info.Duration > 0 {
			b.state.Duration = msg.Info.Duration
		}
		b.state.Volume = msg.Info.Volume
		b.state.Muted = msg.Info.Muted
		b.stateMu.Unlock()
		if b.onInfo != nil {
			b.onInfo(msg.Info)
		}

	default:
		metrics.MessagesDiscarded.WithLabelValues(metrics.ReasonUnknownEvent).Inc()
	}
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return errors.Is(err, net.ErrClosed)
}
