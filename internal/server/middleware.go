package server

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const maxNameLength = 32

// RateLimiter is a per-connection sliding window limiter.
// Why per-connection: one noisy client must not use up the budget of others
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> timestamps inside the window
	mu          sync.Mutex
}

// NewRateLimiter allows maxRequests per window for each connection.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records a request from connectionID and reports whether it fits in
// the window.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := r.recent(connectionID, now)

	if len(recent) >= r.maxRequests {
		r.requests[connectionID] = recent
		return false
	}

	r.requests[connectionID] = append(recent, now)
	return true
}

// Why filter on every call: the map only ever holds timestamps still inside
// the window, so memory stays bounded by maxRequests per connection
func (r *RateLimiter) recent(connectionID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	timestamps := r.requests[connectionID]

	kept := make([]time.Time, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Cleanup forgets connections with no requests inside the window and
// returns how many it dropped.
// Why: connections that close without RemoveConnection leave entries behind
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	dropped := 0
	for connID := range r.requests {
		if len(r.recent(connID, now)) == 0 {
			delete(r.requests, connID)
			dropped++
		}
	}
	return dropped
}

func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

var validMessageTypes = map[string]bool{
	"ping":              true,
	"subscribe_lobby":   true,
	"unsubscribe_lobby": true,
	"create_table":      true,
	"join_table":        true,
	"leave_table":       true,
	"reconnect":         true,
	"start_game":        true,
	"execute_move":      true,
	"request_state":     true,
}

// ValidateMessageType rejects unknown types before any payload is decoded.
func ValidateMessageType(msgType string) error {
	if !validMessageTypes[msgType] {
		return fmt.Errorf("INVALID_MESSAGE_TYPE: Unknown message type '%s'", msgType)
	}
	return nil
}

// ValidateName trims a display name and checks its length.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("NAME_INVALID: Name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("NAME_INVALID: Name too long (max %d characters)", maxNameLength)
	}
	return name, nil
}
