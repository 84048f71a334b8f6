// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package beacon

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPSinkDeliversOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "tok", time.Second)
	sink.Send("/videos/watch/s1/unload", []byte(`{"position":77,"event_type":"progress","extra_data":{"total_watched":340}}`))

	select {
	case body := <-received:
		if string(body) != `{"position":77,"event_type":"progress","extra_data":{"total_watched":340}}` {
			t.Errorf("unexpected payload: %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon never arrived")
	}

	time.Sleep(50 * time.Millisecond)
	if hits.Load() != 1 {
		t.Errorf("expected exactly one delivery, got %d", hits.Load())
	}
}

func TestHTTPSinkSwallowsRejection(t *testing.T) {
	t.Parallel()

	done := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		done <- struct{}{}
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "", time.Second)

	// Must not panic or block, even when the backend rejects.
	sink.Send("/videos/watch/s1/unload", []byte(`{}`))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery attempt never made")
	}
}

func TestDrainWaitsForInflightDelivery(t *testing.T) {
	t.Parallel()

	var delivered atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond) // slow backend
		delivered.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "", time.Second)
	sink.Send("/videos/watch/s1/unload", []byte(`{}`))

	// Without the drain the process would exit here and the request
	// would never leave.
	sink.Drain(2 * time.Second)

	if !delivered.Load() {
		t.Error("expected delivery to complete before Drain returned")
	}
}

func TestDrainTimeoutBoundsShutdown(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	sink := NewHTTPSink(server.URL, "", 10*time.Second)
	sink.Send("/videos/watch/s1/unload", []byte(`{}`))

	start := time.Now()
	sink.Drain(100 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Drain blocked for %v past its timeout", elapsed)
	}
}

func TestDrainWithNothingInflightReturnsImmediately(t *testing.T) {
	t.Parallel()

	sink := NewHTTPSink("http://127.0.0.1:1", "", time.Second)

	start := time.Now()
	sink.Drain(time.Second)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Drain blocked for %v with nothing in flight", elapsed)
	}
}

func TestHTTPSinkUnreachableBackend(t *testing.T) {
	t.Parallel()

	sink := NewHTTPSink("http://127.0.0.1:1", "", 100*time.Millisecond)

	start := time.Now()
	sink.Send("/videos/watch/s1/unload", []byte(`{}`))
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Send blocked for %v, expected immediate return", elapsed)
	}
}
