// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package player

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/lessonlab/viewpulse/internal/models"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		wantKind MessageKind
		wantErr  bool
	}{
		{"ready", `{"event":"onReady"}`, KindReady, false},
		{"state change", `{"event":"onStateChange","info":1}`, KindStateChange, false},
		{"info delivery", `{"event":"infoDelivery","info":{"currentTime":12.5,"duration":600}}`, KindInfo, false},
		{"unknown event", `{"event":"onPlaybackQualityChange","info":"hd720"}`, KindUnknown, false},
		{"empty object", `{}`, KindUnknown, false},
		{"not json", `hello there`, 0, true},
		{"truncated", `{"event":"onStateChange","info":`, 0, true},
		{"state code not a number", `{"event":"onStateChange","info":"playing"}`, 0, true},
		{"info not an object", `{"event":"infoDelivery","info":3}`, 0, true},
		{"array payload", `[1,2,3]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := DecodeMessage([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", msg.Kind, tt.wantKind)
			}
		})
	}
}

func TestDecodeStateChangeCode(t *testing.T) {
	t.Parallel()

	msg, err := DecodeMessage([]byte(`{"event":"onStateChange","info":0}`))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Code != StateEnded {
		t.Errorf("code = %v, want ended", msg.Code)
	}
}

func TestDecodeInfoFields(t *testing.T) {
	t.Parallel()

	msg, err := DecodeMessage([]byte(`{"event":"infoDelivery","info":{"currentTime":77.25,"duration":600,"volume":0.8,"muted":true}}`))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Info.CurrentTime != 77.25 || msg.Info.Duration != 600 {
		t.Errorf("unexpected info timing: %+v", msg.Info)
	}
	if msg.Info.Volume != 0.8 || !msg.Info.Muted {
		t.Errorf("unexpected info audio fields: %+v", msg.Info)
	}
}

func TestStateCodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      StateCode
		wantEvent models.EventKind
		wantOK    bool
	}{
		{StatePlaying, models.EventPlay, true},
		{StatePaused, models.EventPause, true},
		{StateBuffering, models.EventBuffer, true},
		{StateEnded, models.EventComplete, true},
		{StateUnstarted, "", false},
		{StateCued, "", false},
		{StateCode(42), "", false},
	}

	for _, tt := range tests {
		event, ok := tt.code.Event()
		if ok != tt.wantOK || event != tt.wantEvent {
			t.Errorf("%v.Event() = (%q, %v), want (%q, %v)", tt.code, event, ok, tt.wantEvent, tt.wantOK)
		}
	}
}

func TestEncodeCommand(t *testing.T) {
	t.Parallel()

	data, err := EncodeCommand(funcSeek, 42.5)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.Event != "command" {
		t.Errorf("event = %q, want command", cmd.Event)
	}
	if cmd.Func != "seekTo" {
		t.Errorf("func = %q, want seekTo", cmd.Func)
	}
	if len(cmd.Args) != 1 || cmd.Args[0] != 42.5 {
		t.Errorf("args = %v, want [42.5]", cmd.Args)
	}
}

func TestEncodeCommandNoArgs(t *testing.T) {
	t.Parallel()

	data, err := EncodeCommand(funcPlay)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if string(data) != `{"event":"command","func":"playVideo","args":[]}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}

func TestOriginSet(t *testing.T) {
	t.Parallel()

	set := NewOriginSet([]string{
		"https://player.lessonlab.io",
		"HTTPS://Embed.LessonLab.io/",
	})

	trusted := []string{
		"https://player.lessonlab.io",
		"https://player.lessonlab.io/",
		"https://EMBED.lessonlab.io",
	}
	for _, origin := range trusted {
		if !set.Contains(origin) {
			t.Errorf("expected %q to be trusted", origin)
		}
	}

	untrusted := []string{
		"https://evil.example",
		"https://player.lessonlab.io.evil.example",
		"http://player.lessonlab.io",
		"https://sub.player.lessonlab.io",
		"",
		"null",
		"file://",
		"player.lessonlab.io",
	}
	for _, origin := range untrusted {
		if set.Contains(origin) {
			t.Errorf("expected %q to be untrusted", origin)
		}
	}
}
