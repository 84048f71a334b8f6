// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/lessonlab/viewpulse/internal/player"
	"github.com/lessonlab/viewpulse/internal/session"
)

// ErrPlayerChannelClosed is returned by BridgeService when the player
// transport drops. Suture treats it as a failure and redials with
// backoff.
var ErrPlayerChannelClosed = errors.New("player channel closed")

// TransportDialer opens a fresh transport to the embedded player.
type TransportDialer func(ctx context.Context) (player.MessageTransport, error)

// BridgeService runs a player bridge as a supervised service. Each
// Serve call dials a fresh transport, builds a new bridge, and hands it
// to bind so the session manager can register its callbacks. When the
// transport drops, Serve returns an error and suture redials.
type BridgeService struct {
	dial    TransportDialer
	origins player.OriginSet
	bind    func(*player.Bridge)
}

// NewBridgeService creates a bridge service. bind is invoked with every
// fresh bridge before it starts reading; it may be nil.
func NewBridgeService(dial TransportDialer, origins player.OriginSet, bind func(*player.Bridge)) *BridgeService {
	return &BridgeService{dial: dial, origins: origins, bind: bind}
}

// Serve implements suture.Service.
func (s *BridgeService) Serve(ctx context.Context) error {
	transport, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial player transport: %w", err)
	}

	bridge := player.NewBridge(transport, s.origins)
	if s.bind != nil {
		s.bind(bridge)
	}
	bridge.Attach(ctx)

	select {
	case <-ctx.Done():
		bridge.Detach()
		return ctx.Err()
	case <-bridge.Done():
		bridge.Detach()
		return ErrPlayerChannelClosed
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *BridgeService) String() string {
	return "player-bridge"
}

// FlushLoopService runs the session manager's periodic telemetry flush
// loop under supervision.
type FlushLoopService struct {
	manager *session.Manager
}

// NewFlushLoopService wraps the manager's flush loop as a service.
func NewFlushLoopService(manager *session.Manager) *FlushLoopService {
	return &FlushLoopService{manager: manager}
}

// Serve implements suture.Service. The loop stops when ctx is
// canceled; final teardown (beacon handoff) stays with the caller.
func (s *FlushLoopService) Serve(ctx context.Context) error {
	s.manager.Run(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *FlushLoopService) String() string {
	return "telemetry-flush"
}
