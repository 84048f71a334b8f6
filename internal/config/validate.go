// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package config

import (
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct tags plus the
// constraints the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("struct validation: %w", err)
	}

	if err := c.validateTrustedOrigins(); err != nil {
		return err
	}
	return c.validateTransportURL()
}

// validateTrustedOrigins requires every trusted origin to be a bare
// scheme://host[:port] origin. Paths, queries, and userinfo would make the
// allow-list comparison ambiguous.
func (c *Config) validateTrustedOrigins() error {
	for _, origin := range c.Player.TrustedOrigins {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("trusted origin %q: %w", origin, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("trusted origin %q: scheme must be http or https", origin)
		}
		if u.Host == "" {
			return fmt.Errorf("trusted origin %q: missing host", origin)
		}
		if u.Path != "" && u.Path != "/" {
			return fmt.Errorf("trusted origin %q: must not carry a path", origin)
		}
		if u.RawQuery != "" || u.User != nil {
			return fmt.Errorf("trusted origin %q: must be a bare origin", origin)
		}
	}
	return nil
}

// validateTransportURL requires a ws:// or wss:// player transport endpoint.
func (c *Config) validateTransportURL() error {
	u, err := url.Parse(c.Player.TransportURL)
	if err != nil {
		return fmt.Errorf("player transport_url %q: %w", c.Player.TransportURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("player transport_url %q: scheme must be ws or wss", c.Player.TransportURL)
	}
	if u.Host == "" {
		return fmt.Errorf("player transport_url %q: missing host", c.Player.TransportURL)
	}
	return nil
}
