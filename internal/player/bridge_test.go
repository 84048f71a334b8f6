// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package player

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// mockTransport is an in-memory MessageTransport for bridge tests.
type mockTransport struct {
	inbound   chan []byte
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{inbound: make(chan []byte, 16)}
}

func (m *mockTransport) Read() ([]byte, error) {
	data, ok := <-m.inbound
	if !ok {
		return nil, net.ErrClosed
	}
	return data, nil
}

func (m *mockTransport) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, data)
	return nil
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.inbound) })
	return nil
}

func (m *mockTransport) writtenMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// deliver frames a payload with an origin and queues it for the bridge.
// The payload is embedded verbatim so malformed data reaches the bridge
// exactly as written.
func (m *mockTransport) deliver(t *testing.T, origin, payload string) {
	t.Helper()
	originJSON, err := json.Marshal(origin)
	if err != nil {
		t.Fatalf("marshal origin: %v", err)
	}
	frame := fmt.Sprintf(`{"origin":%s,"data":%s}`, originJSON, payload)
	m.inbound <- []byte(frame)
}

// deliverRaw queues raw bytes without framing.
func (m *mockTransport) deliverRaw(data []byte) {
	m.inbound <- data
}

const trustedOrigin = "https://player.lessonlab.io"

func newTestBridge(t *testing.T) (*Bridge, *mockTransport) {
	t.Helper()
	transport := newMockTransport()
	bridge := NewBridge(transport, NewOriginSet([]string{trustedOrigin}))
	t.Cleanup(bridge.Detach)
	return bridge, transport
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBridgeRoutesStateChange(t *testing.T) {
	t.Parallel()

	bridge, transport := newTestBridge(t)

	var mu sync.Mutex
	var codes []StateCode
	bridge.OnStateChange(func(code StateCode) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	})

	bridge.Attach(context.Background())
	transport.deliver(t, trustedOrigin, `{"event":"onStateChange","info":1}`)
	transport.deliver(t, trustedOrigin, `{"event":"onStateChange","info":2}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(codes) == 2
	}, "expected two state change callbacks")

	mu.Lock()
	defer mu.Unlock()
	if codes[0] != StatePlaying || codes[1] != StatePaused {
		t.Errorf("codes = %v, want [playing paused]", codes)
	}
	if bridge.Snapshot().StateCode != int(StatePaused) {
		t.Errorf("mirrored state code = %d, want %d", bridge.Snapshot().StateCode, StatePaused)
	}
}

func TestBridgeReadyCallback(t *testing.T) {
	t.Parallel()

	bridge, transport := newTestBridge(t)

	ready := make(chan struct{}, 1)
	bridge.OnReady(func() { ready <- struct{}{} })

	bridge.Attach(context.Background())
	transport.deliver(t, trustedOrigin, `{"event":"onReady"}`)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("expected onReady callback")
	}
}

func TestBridgeMirrorsInfo(t *testing.T) {
	t.Parallel()

	bridge, transport := newTestBridge(t)
	bridge.Attach(context.Background())

	transport.deliver(t, trustedOrigin, `{"event":"infoDelivery","info":{"currentTime":33.5,"duration":600,"volume":0.5,"muted":false}}`)

	waitFor(t, func() bool {
		return bridge.Snapshot().CurrentTime == 33.5
	}, "expected mirrored currentTime")

	state := bridge.Snapshot()
	if state.Duration != 600 {
		t.Errorf("duration = %v, want 600", state.Duration)
	}
}

func TestBridgeDiscardsUntrustedAndMalformed(t *testing.T) {
	t.Parallel()

	bridge, transport := newTestBridge(t)

	fired := make(chan struct{}, 16)
	bridge.OnStateChange(func(StateCode) { fired <- struct{}{} })
	bridge.OnReady(func() { fired <- struct{}{} })
	bridge.OnInfo(func(PlayerInfo) { fired <- struct{}{} })

	bridge.Attach(context.Background())

	// Fuzzed origins and payloads: none of these may reach a callback or
	// mutate the mirrored state.
	hostileOrigins := []string{
		"https://evil.example",
		"https://player.lessonlab.io.evil.example",
		"http://player.lessonlab.io",
		"null",
		"",
		"javascript:alert(1)",
	}
	for i, origin := range hostileOrigins {
		transport.deliver(t, origin, fmt.Sprintf(`{"event":"onStateChange","info":%d}`, (i%4)-1))
		transport.deliver(t, origin, `{"event":"onReady"}`)
		transport.deliver(t, origin, `{"event":"infoDelivery","info":{"currentTime":999}}`)
	}

	// Malformed payloads from the trusted origin.
	transport.deliver(t, trustedOrigin, `not json at all`)
	transport.deliver(t, trustedOrigin, `{"event":"onStateChange","info":"playing"}`)
	transport.deliver(t, trustedOrigin, `{"event":"infoDelivery","info":[]}`)
	transport.deliverRaw([]byte(`%%%`))

	// Unknown state code from the trusted origin.
	transport.deliver(t, trustedOrigin, `{"event":"onStateChange","info":99}`)

	// A trusted sentinel proves the earlier messages were already processed
	// (delivery order is preserved) and were all dropped.
	done := make(chan struct{}, 1)
	bridge.OnInfo(func(info PlayerInfo) {
		if info.CurrentTime == 1 {
			done <- struct{}{}
		}
	})
	transport.deliver(t, trustedOrigin, `{"event":"infoDelivery","info":{"currentTime":1}}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sentinel message never processed")
	}

	select {
	case <-fired:
		t.Fatal("hostile or malformed message reached a callback")
	default:
	}

	if state := bridge.Snapshot(); state.CurrentTime == 999 {
		t.Error("hostile message mutated mirrored state")
	}
}

func TestBridgeCommands(t *testing.T) {
	t.Parallel()

	bridge, transport := newTestBridge(t)
	bridge.Attach(context.Background())

	if err := bridge.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := bridge.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := bridge.SeekTo(120); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}

	written := transport.writtenMessages()
	if len(written) != 3 {
		t.Fatalf("expected 3 outbound commands, got %d", len(written))
	}

	var cmd Command
	if err := json.Unmarshal(written[2], &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.Func != "seekTo" || len(cmd.Args) != 1 {
		t.Errorf("unexpected seek command: %+v", cmd)
	}
}

func TestBridgeDetachIdempotent(t *testing.T) {
	t.Parallel()

	bridge, _ := newTestBridge(t)
	bridge.Attach(context.Background())

	bridge.Detach()
	bridge.Detach()
}
