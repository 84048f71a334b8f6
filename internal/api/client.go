// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package api implements the client for the platform backend's watch-session
// endpoints: session start/update/end and the signed embed-url provider.
//
// Resilience:
//   - Circuit breaker: opens after consecutive failures, fails fast while
//     open. A fast-failed flush keeps its update pending for the next tick.
//   - Rate limiter: bounds outbound request volume. Telemetry is not
//     critical-path; waiting beats flooding.
//   - Context on every method for cancellation and timeouts.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/lessonlab/viewpulse/internal/config"
	"github.com/lessonlab/viewpulse/internal/models"
)

// maxErrorBodySize bounds how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Body)
}

// Backend is the watch-session API surface consumed by the session manager.
// *Client implements it; tests substitute fakes.
type Backend interface {
	StartWatch(ctx context.Context, videoID string) (*StartWatchResponse, error)
	UpdateWatch(ctx context.Context, sessionID string, req UpdateWatchRequest) error
	EndWatch(ctx context.Context, sessionID string) error
	EmbedURL(ctx context.Context, videoID string, autoplay bool, start int) (*models.EmbedInfo, error)
}

// Client talks to the platform backend over HTTPS.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	limiter    *rate.Limiter
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig) *Client {
	settings := gobreaker.Settings{
		Name:    "watch-backend",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// WatchStartPath returns the session-open endpoint path for a video.
func WatchStartPath(videoID string) string {
	return "/videos/" + url.PathEscape(videoID) + "/watch/start"
}

// WatchUpdatePath returns the telemetry-update endpoint path for a session.
func WatchUpdatePath(sessionID string) string {
	return "/videos/watch/" + url.PathEscape(sessionID) + "/update"
}

// WatchEndPath returns the session-close endpoint path for a session.
func WatchEndPath(sessionID string) string {
	return "/videos/watch/" + url.PathEscape(sessionID) + "/end"
}

// WatchUnloadPath returns the unload-safe telemetry endpoint path for a
// session. It accepts the same body as the update endpoint but never
// expects the client to read a response.
func WatchUnloadPath(sessionID string) string {
	return "/videos/watch/" + url.PathEscape(sessionID) + "/unload"
}

// EmbedURLPath returns the embed-url endpoint path for a video.
func EmbedURLPath(videoID string) string {
	return "/videos/" + url.PathEscape(videoID) + "/embed-url"
}

// StartWatch opens a watch session for the video and returns the
// backend-issued session token.
func (c *Client) StartWatch(ctx context.Context, videoID string) (*StartWatchResponse, error) {
	var resp StartWatchResponse
	if err := c.post(ctx, WatchStartPath(videoID), nil, &resp); err != nil {
		return nil, fmt.Errorf("start watch for video %s: %w", videoID, err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("start watch for video %s: backend returned empty session_id", videoID)
	}
	return &resp, nil
}

// UpdateWatch transmits the current engagement delta for a session.
func (c *Client) UpdateWatch(ctx context.Context, sessionID string, req UpdateWatchRequest) error {
	if err := c.post(ctx, WatchUpdatePath(sessionID), req, nil); err != nil {
		return fmt.Errorf("update watch session %s: %w", sessionID, err)
	}
	return nil
}

// EndWatch closes a watch session.
func (c *Client) EndWatch(ctx context.Context, sessionID string) error {
	if err := c.post(ctx, WatchEndPath(sessionID), nil, nil); err != nil {
		return fmt.Errorf("end watch session %s: %w", sessionID, err)
	}
	return nil
}

// EmbedURL fetches the signed, time-limited embed target for a video.
// The returned URLs are treated as opaque.
func (c *Client) EmbedURL(ctx context.Context, videoID string, autoplay bool, start int) (*models.EmbedInfo, error) {
	q := url.Values{}
	q.Set("autoplay", strconv.FormatBool(autoplay))
	q.Set("start", strconv.Itoa(start))

	var info models.EmbedInfo
	if err := c.get(ctx, EmbedURLPath(videoID)+"?"+q.Encode(), &info); err != nil {
		return nil, fmt.Errorf("embed url for video %s: %w", videoID, err)
	}
	if info.EmbedURL == "" && info.SignedURL == "" {
		return nil, fmt.Errorf("embed url for video %s: backend returned no embed target", videoID)
	}
	return &info, nil
}

// IsCircuitOpen reports whether the breaker is currently rejecting requests.
func (c *Client) IsCircuitOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do executes one request through the rate limiter and circuit breaker,
// decoding a 2xx response body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(readBounded(resp.Body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// readBounded reads at most maxErrorBodySize bytes for error diagnostics.
func readBounded(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

// IsBreakerOpen reports whether err is the circuit breaker rejecting fast.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
