// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package api

import "github.com/lessonlab/viewpulse/internal/models"

// StartWatchResponse is the body returned by the session-open endpoint.
type StartWatchResponse struct {
	SessionID string `json:"session_id"`
	VideoID   string `json:"video_id"`
}

// UpdateWatchRequest is the body of the telemetry-update endpoint. The
// unload-safe endpoint accepts the same shape.
type UpdateWatchRequest struct {
	Position  float64   `json:"position"`
	EventType string    `json:"event_type"`
	ExtraData ExtraData `json:"extra_data"`
}

// ExtraData carries the engagement totals nested under extra_data.
type ExtraData struct {
	TotalWatched float64 `json:"total_watched"`
}

// UpdateRequestFor converts a pending update into the wire request shape.
func UpdateRequestFor(u models.PendingUpdate) UpdateWatchRequest {
	return UpdateWatchRequest{
		Position:  u.Position,
		EventType: string(u.Event),
		ExtraData: ExtraData{TotalWatched: u.TotalWatched},
	}
}
