// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package telemetry decouples the frequency of player events (potentially
// many per second) from the frequency of network writes. It holds at most
// one pending engagement delta and transmits it on a fixed-period timer,
// or immediately on demand for loss-sensitive events.
//
// The pending slot is last-write-wins: a newer update overwrites an
// unsent one, and no backlog of historical deltas is retained.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/lessonlab/viewpulse/internal/logging"
	"github.com/lessonlab/viewpulse/internal/metrics"
	"github.com/lessonlab/viewpulse/internal/models"
)

// FlushFunc transmits one pending update to the backend.
type FlushFunc func(ctx context.Context, update models.PendingUpdate) error

// Batcher owns the single pending-update slot and the periodic flush timer.
//
// Flush discipline: the slot is cleared synchronously at the moment a flush
// begins, not at its completion. A second flush racing the first therefore
// finds an empty slot and is a no-op; nothing is ever sent twice. A failed
// flush restores its update only if the slot is still empty, so a newer
// update written in the meantime wins.
type Batcher struct {
	interval     time.Duration
	flushTimeout time.Duration
	flush        FlushFunc

	mu      sync.Mutex
	pending *models.PendingUpdate

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewBatcher creates a batcher. interval is the periodic flush period;
// flushTimeout bounds each flush request.
func NewBatcher(interval, flushTimeout time.Duration, flush FlushFunc) *Batcher {
	return &Batcher{
		interval:     interval,
		flushTimeout: flushTimeout,
		flush:        flush,
	}
}

// Set stores an update in the pending slot, overwriting any unsent one.
func (b *Batcher) Set(update models.PendingUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		metrics.PendingOverwrites.Inc()
	}
	b.pending = &update
}

// Take clears and returns the pending update. The second return is false
// when the slot is empty.
func (b *Batcher) Take() (models.PendingUpdate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return models.PendingUpdate{}, false
	}
	update := *b.pending
	b.pending = nil
	return update, true
}

// Restore puts a failed flush's update back, unless a newer update has
// already claimed the slot.
func (b *Batcher) Restore(update models.PendingUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		b.pending = &update
	}
}

// Pending reports whether an update is waiting to be sent.
func (b *Batcher) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// Start launches the periodic flush loop. No-op if already running.
func (b *Batcher) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopChan = make(chan struct{})

	b.wg.Add(1)
	go b.loop(ctx, b.stopChan)
}

// Stop cancels the periodic flush loop and waits for it to exit. A flush
// already in flight completes or fails on its own. No-op if not running.
func (b *Batcher) Stop() {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.running = false
	close(b.stopChan)
	b.runMu.Unlock()

	b.wg.Wait()
}

// FlushNow transmits the pending update immediately, bypassing the timer.
// An empty slot is a no-op. Used for loss-sensitive events and teardown.
func (b *Batcher) FlushNow(ctx context.Context) error {
	return b.flushPending(ctx, metrics.TriggerImmediate)
}

func (b *Batcher) loop(ctx context.Context, stopChan <-chan struct{}) {
	defer b.wg.Done()
	defer func() {
		// Context cancellation ends the loop without Stop being called;
		// clear the flag so a later Start works.
		b.runMu.Lock()
		if b.running && b.stopChan == stopChan {
			b.running = false
		}
		b.runMu.Unlock()
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		case <-ticker.C:
			if err := b.flushPending(ctx, metrics.TriggerPeriodic); err != nil {
				logging.Debug().Err(err).Msg("periodic flush failed, update retained")
			}
		}
	}
}

// flushPending takes the slot and transmits it. On failure the update is
// restored for the next tick; the error is reported for logging only and
// never surfaces to a user.
func (b *Batcher) flushPending(ctx context.Context, trigger string) error {
	update, ok := b.Take()
	if !ok {
		return nil
	}

	metrics.FlushesTotal.WithLabelValues(trigger).Inc()

	flushCtx, cancel := context.WithTimeout(ctx, b.flushTimeout)
	defer cancel()

	if err := b.flush(flushCtx, update); err != nil {
		metrics.FlushErrors.Inc()
		b.Restore(update)
		return err
	}
	return nil
}
