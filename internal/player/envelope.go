// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package player implements the bridge to the embedded third-party lesson
// player: decoding its origin-tagged notification messages at a trust
// boundary, mirroring its reported state, and posting fire-and-forget
// control commands back to it.
//
// The channel is inherently untrusted. Messages are accepted only from the
// configured allow-list of player-provider origins, and payloads are parsed
// defensively into a tagged union before any business logic runs. Anything
// malformed or unrecognized is counted and dropped, never raised.
package player

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lessonlab/viewpulse/internal/models"
)

// StateCode is the numeric player state reported by onStateChange messages.
type StateCode int

// Player state codes, as reported on the wire.
const (
	StateUnstarted StateCode = -1
	StateEnded     StateCode = 0
	StatePlaying   StateCode = 1
	StatePaused    StateCode = 2
	StateBuffering StateCode = 3
	StateCued      StateCode = 5
)

// String returns the state name for logging.
func (c StateCode) String() string {
	switch c {
	case StateUnstarted:
		return "unstarted"
	case StateEnded:
		return "ended"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateCued:
		return "cued"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Known reports whether c is a state code this client understands.
func (c StateCode) Known() bool {
	switch c {
	case StateUnstarted, StateEnded, StatePlaying, StatePaused, StateBuffering, StateCued:
		return true
	}
	return false
}

// Event maps a state code to the semantic session event it implies.
// Unstarted and cued states carry no session semantics and map to nothing.
func (c StateCode) Event() (models.EventKind, bool) {
	switch c {
	case StatePlaying:
		return models.EventPlay, true
	case StatePaused:
		return models.EventPause, true
	case StateBuffering:
		return models.EventBuffer, true
	case StateEnded:
		return models.EventComplete, true
	default:
		return "", false
	}
}

// MessageKind tags the decoded inbound message union.
type MessageKind int

// Inbound message kinds.
const (
	KindUnknown MessageKind = iota
	KindReady
	KindStateChange
	KindInfo
)

// PlayerInfo is the continuous telemetry carried by infoDelivery messages.
type PlayerInfo struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Volume      float64 `json:"volume"`
	Muted       bool    `json:"muted"`
}

// Message is one decoded inbound player message. Code is meaningful only
// for KindStateChange, Info only for KindInfo.
type Message struct {
	Kind MessageKind
	Code StateCode
	Info PlayerInfo
}

// Inbound wire event names.
const (
	eventReady       = "onReady"
	eventStateChange = "onStateChange"
	eventInfo        = "infoDelivery"
)

// envelope is the raw inbound message shape. Info is deferred because its
// type depends on the event: a bare number for onStateChange, an object
// for infoDelivery.
type envelope struct {
	Event string          `json:"event"`
	Info  json.RawMessage `json:"info"`
}

// DecodeMessage parses an inbound payload into the message union.
// Malformed payloads return an error; recognized-but-unmatched events
// return Kind KindUnknown with no error. Callers drop both, but the
// distinction feeds separate discard counters.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case eventReady:
		return Message{Kind: KindReady}, nil

	case eventStateChange:
		var code int
		if err := json.Unmarshal(env.Info, &code); err != nil {
			return Message{}, fmt.Errorf("decode state code: %w", err)
		}
		return Message{Kind: KindStateChange, Code: StateCode(code)}, nil

	case eventInfo:
		var info PlayerInfo
		if err := json.Unmarshal(env.Info, &info); err != nil {
			return Message{}, fmt.Errorf("decode info payload: %w", err)
		}
		return Message{Kind: KindInfo, Info: info}, nil

	default:
		return Message{Kind: KindUnknown}, nil
	}
}

// Command is the outbound control envelope posted to the player. There is
// no delivery confirmation; the next inbound state message is the only
// acknowledgment.
type Command struct {
	Event string `json:"event"`
	Func  string `json:"func"`
	Args  []any  `json:"args"`
}

// Outbound command function names.
const (
	funcPlay  = "playVideo"
	funcPause = "pauseVideo"
	funcSeek  = "seekTo"
)

// EncodeCommand serializes a control command envelope.
func EncodeCommand(fn string, args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(Command{Event: "command", Func: fn, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode command %s: %w", fn, err)
	}
	return data, nil
}

// OriginSet is the allow-list of trusted player-provider origins.
// Lookup is by normalized origin: lowercase, no trailing slash.
type OriginSet map[string]struct{}

// NewOriginSet builds an origin allow-list from configured origins.
func NewOriginSet(origins []string) OriginSet {
	set := make(OriginSet, len(origins))
	for _, o := range origins {
		set[normalizeOrigin(o)] = struct{}{}
	}
	return set
}

// Contains reports whether origin is trusted.
func (s OriginSet) Contains(origin string) bool {
	_, ok := s[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}
