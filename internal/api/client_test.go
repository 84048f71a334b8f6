// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/lessonlab/viewpulse/internal/config"
	"github.com/lessonlab/viewpulse/internal/models"
)

// testClientConfig returns a permissive client config pointed at url.
func testClientConfig(url string) config.BackendConfig {
	return config.BackendConfig{
		URL:               url,
		Token:             "test-token",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
		BreakerFailures:   3,
		BreakerTimeout:    time.Minute,
	}
}

func TestStartWatch(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"s1","video_id":"v1"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	resp, err := client.StartWatch(context.Background(), "v1")
	if err != nil {
		t.Fatalf("StartWatch: %v", err)
	}

	if resp.SessionID != "s1" {
		t.Errorf("expected session_id s1, got %q", resp.SessionID)
	}
	if gotPath != "/videos/v1/watch/start" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
}

func TestStartWatchRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"","video_id":"v1"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	if _, err := client.StartWatch(context.Background(), "v1"); err == nil {
		t.Fatal("expected error for empty session_id")
	}
}

func TestUpdateWatchBody(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody UpdateWatchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	req := UpdateRequestFor(models.PendingUpdate{
		SessionID:    "s1",
		Position:     42,
		Event:        models.EventSeek,
		TotalWatched: 17.5,
	})
	if err := client.UpdateWatch(context.Background(), "s1", req); err != nil {
		t.Fatalf("UpdateWatch: %v", err)
	}

	if gotPath != "/videos/watch/s1/update" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody.Position != 42 {
		t.Errorf("expected position 42, got %v", gotBody.Position)
	}
	if gotBody.EventType != "seek" {
		t.Errorf("expected event_type seek, got %q", gotBody.EventType)
	}
	if gotBody.ExtraData.TotalWatched != 17.5 {
		t.Errorf("expected total_watched 17.5, got %v", gotBody.ExtraData.TotalWatched)
	}
}

func TestEndWatch(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	if err := client.EndWatch(context.Background(), "s1"); err != nil {
		t.Fatalf("EndWatch: %v", err)
	}
	if gotPath != "/videos/watch/s1/end" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestEmbedURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/v1/embed-url" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("autoplay") != "true" {
			t.Errorf("expected autoplay=true, got %q", r.URL.Query().Get("autoplay"))
		}
		if r.URL.Query().Get("start") != "30" {
			t.Errorf("expected start=30, got %q", r.URL.Query().Get("start"))
		}
		_, _ = w.Write([]byte(`{"embed_url":"https://player.example/embed/v1","signed_url":"https://player.example/embed/v1?sig=abc","duration":600,"duration_formatted":"10:00"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	info, err := client.EmbedURL(context.Background(), "v1", true, 30)
	if err != nil {
		t.Fatalf("EmbedURL: %v", err)
	}
	if info.SignedURL == "" || info.Duration != 600 {
		t.Errorf("unexpected embed info: %+v", info)
	}
}

func TestStatusErrorSurfaced(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	err := client.EndWatch(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for 404")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", statusErr.Code)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := client.EndWatch(ctx, "s1"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if !client.IsCircuitOpen() {
		t.Fatal("expected breaker to be open after 3 consecutive failures")
	}

	before := requests.Load()
	err := client.EndWatch(ctx, "s1")
	if !IsBreakerOpen(err) {
		t.Errorf("expected breaker-open error, got %v", err)
	}
	if requests.Load() != before {
		t.Error("expected fast failure without a network request")
	}
}
