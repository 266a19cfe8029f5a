// Package costs accumulates per-session token and dollar spend.
package costs

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a session has no recorded spend.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL is how long an idle session survives.
const DefaultSessionTTL = 24 * time.Hour

// SessionCost is the accumulated spend for one session.
type SessionCost struct {
	TotalTokens int       `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
	Requests    int       `json:"requests"`
	LastUpdated time.Time `json:"last_updated"`
}

// Tracker is a process-wide session cost map. Entries are lazily
// created on first Add and evicted opportunistically when idle longer
// than the TTL.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*SessionCost
	ttl      time.Duration

	now func() time.Time
}

// New creates a tracker with the given idle TTL. Zero means the
// default of 24 hours.
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Tracker{
		sessions: make(map[string]*SessionCost),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add accumulates tokens and cost onto a session, creating it if
// absent, and returns the updated snapshot.
func (t *Tracker) Add(sessionID string, tokens int, cost float64) SessionCost {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	entry, ok := t.sessions[sessionID]
	if !ok {
		// Eviction runs before every create so the map stays bounded
		// without a background goroutine.
		t.evictExpired(now)
		entry = &SessionCost{}
		t.sessions[sessionID] = entry
	}

	entry.TotalTokens += tokens
	entry.TotalCost += cost
	entry.Requests++
	entry.LastUpdated = now

	return *entry
}

// Get returns the session snapshot or ErrSessionNotFound.
func (t *Tracker) Get(sessionID string) (SessionCost, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.sessions[sessionID]
	if !ok {
		return SessionCost{}, ErrSessionNotFound
	}
	return *entry, nil
}

// Clear removes a session's accumulated spend.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// GetAll returns a snapshot copy of every tracked session.
func (t *Tracker) GetAll() map[string]SessionCost {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]SessionCost, len(t.sessions))
	for id, entry := range t.sessions {
		out[id] = *entry
	}
	return out
}

// evictExpired drops idle sessions. Caller holds the lock.
func (t *Tracker) evictExpired(now time.Time) {
	for id, entry := range t.sessions {
		if now.Sub(entry.LastUpdated) > t.ttl {
			delete(t.sessions, id)
		}
	}
}
