// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package display holds the state shown on an attached status display:
// the M117 message, M73 progress, and the transient status line that the
// wait supervisor rewrites while it runs.
package display

import (
	"sync"
	"time"

	"probetherm/pkg/config"
)

// defaultProgressTimeout is how long an M73 progress value stays valid
// without being refreshed, in seconds.
const defaultProgressTimeout = 5.0

// Display is a passive state holder; command handlers and the wait
// supervisor write to it, the API and any attached screen read from it.
type Display struct {
	progressTimeout time.Duration

	mu             sync.Mutex
	message        string
	status         string
	progress       float64
	hasProgress    bool
	expireProgress time.Time
}

// New builds the display state. The optional [display] config section
// tunes the progress expiry:
//
//	[display]
//	progress_timeout: 5.0
func New(cfg *config.Config) (*Display, error) {
	timeout := defaultProgressTimeout
	if sec := cfg.GetSectionOptional("display"); sec != nil {
		zero := 0.0
		v, err := sec.GetFloatWithBounds("progress_timeout",
			config.FloatBounds{Above: &zero}, defaultProgressTimeout)
		if err != nil {
			return nil, err
		}
		timeout = v
	}
	return &Display{
		progressTimeout: time.Duration(timeout * float64(time.Second)),
	}, nil
}

// SetMessage sets the persistent M117 message. An empty string clears it.
func (d *Display) SetMessage(msg string) {
	d.mu.Lock()
	d.message = msg
	d.mu.Unlock()
}

// Message returns the persistent M117 message, or "" when unset.
func (d *Display) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// SetProgress records a progress fraction, clamped to [0, 1]. The value
// expires unless refreshed within the progress timeout.
func (d *Display) SetProgress(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	d.mu.Lock()
	d.progress = fraction
	d.hasProgress = true
	d.expireProgress = time.Now().Add(d.progressTimeout)
	d.mu.Unlock()
}

// ClearProgress drops any recorded progress.
func (d *Display) ClearProgress() {
	d.mu.Lock()
	d.hasProgress = false
	d.mu.Unlock()
}

// Progress returns the current fraction, or 0 when unset or expired.
func (d *Display) Progress() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasProgress {
		return 0
	}
	if !time.Now().Before(d.expireProgress) {
		d.hasProgress = false
		return 0
	}
	return d.progress
}

// SetStatus sets the transient status line. While set it takes precedence
// over the M117 message.
func (d *Display) SetStatus(text string) {
	d.mu.Lock()
	d.status = text
	d.mu.Unlock()
}

// ResetStatus clears the transient status line, letting the persistent
// message show again.
func (d *Display) ResetStatus() {
	d.mu.Lock()
	d.status = ""
	d.mu.Unlock()
}

// Text returns what the display should show right now.
func (d *Display) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != "" {
		return d.status
	}
	return d.message
}

// GetStatus reports display state for status queries.
func (d *Display) GetStatus(eventtime float64) map[string]interface{} {
	progress := d.Progress()
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"message":  d.message,
		"status":   d.status,
		"progress": progress,
	}
}
