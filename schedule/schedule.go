// Package schedule decides whether a "nothing changed" heartbeat should
// fire. It is only consulted when a run produced an empty report.
package schedule

import (
	"fmt"
	"time"
)

// Gate holds the daily heartbeat window. The window is evaluated fresh
// every run; no "already sent today" flag is persisted, so the invocation
// cadence should be no finer than the window length.
type Gate struct {
	Enabled       bool
	startHour     int
	startMinute   int
	windowMinutes int
}

// NewGate parses the window start as "HH:MM" (24h clock).
func NewGate(enabled bool, start string, windowMinutes int) (*Gate, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(start, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("parse heartbeat window start %q: %w", start, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("heartbeat window start %q out of range", start)
	}
	if windowMinutes < 0 {
		return nil, fmt.Errorf("heartbeat window length must not be negative")
	}
	return &Gate{
		Enabled:       enabled,
		startHour:     hour,
		startMinute:   minute,
		windowMinutes: windowMinutes,
	}, nil
}

// ShouldFire reports whether a heartbeat is due at the given instant:
// heartbeats are enabled and now lies within [start, start+window] of the
// same calendar day, inclusive at both ends.
func (g *Gate) ShouldFire(now time.Time) bool {
	if g == nil || !g.Enabled {
		return false
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), g.startHour, g.startMinute, 0, 0, now.Location())
	elapsed := now.Sub(start)
	return elapsed >= 0 && elapsed <= time.Duration(g.windowMinutes)*time.Minute
}
