// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package beacon provides the best-effort, fire-and-forget sink used to
// deliver the final pending update at teardown, when ordinary requests can
// no longer be awaited.
//
// The Sink contract is deliberately distinct from the normal backend
// client: it never blocks the caller, never reports an error, and never
// retries. Delivery is not guaranteed.
package beacon

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lessonlab/viewpulse/internal/logging"
	"github.com/lessonlab/viewpulse/internal/metrics"
)

// Sink accepts one payload for best-effort delivery. Implementations must
// return immediately and swallow all failures.
type Sink interface {
	Send(path string, payload []byte)
}

// HTTPSink posts payloads from a detached goroutine with its own short
// deadline, so delivery survives the caller's teardown. Unlike a browser
// beacon, nothing outlives this process to finish the request; the owner
// of process exit must call Drain before returning from main.
type HTTPSink struct {
	baseURL  string
	token    string
	client   *http.Client
	timeout  time.Duration
	inflight sync.WaitGroup
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates a sink posting to baseURL+path with the given bearer
// token. A non-positive timeout defaults to 5 seconds.
func NewHTTPSink(baseURL, token string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Send hands the payload to a background delivery attempt and returns
// immediately. No response is awaited; failure is logged at debug only.
func (s *HTTPSink) Send(path string, payload []byte) {
	metrics.BeaconSends.Inc()

	url := s.baseURL + path
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			logging.Debug().Err(err).Msg("beacon request build failed")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			logging.Debug().Err(err).Msg("beacon delivery failed")
			return
		}
		_ = resp.Body.Close()
	}()
}

// Drain waits up to timeout for in-flight deliveries to finish. Call it
// once, after the last Send, just before process exit; without it the
// runtime kills the delivery goroutine before the request leaves. Sends
// still in flight when the timeout expires are abandoned.
func (s *HTTPSink) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logging.Debug().Dur("timeout", timeout).Msg("beacon drain timed out")
	}
}
