// Package conversation is the per-user dialogue state machine. It routes
// inbound messages through extraction, slot filling and disambiguation,
// and emits outbound prompts or finalized calendar operations.
package conversation

import (
	"sync"
	"time"

	"schedmate/app/core/calendar"
	"schedmate/app/core/extraction"
	"schedmate/app/core/slotfill"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingSlot
	PhaseAwaitingDisambiguation
	PhaseAwaitingConfirmation
	PhaseErrorRecovery
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingSlot:
		return "awaiting_slot"
	case PhaseAwaitingDisambiguation:
		return "awaiting_disambiguation"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseErrorRecovery:
		return "error_recovery"
	}
	return "unknown"
}

// State is the resting point between messages. Slot is set only while the
// phase is PhaseAwaitingSlot.
type State struct {
	Phase Phase
	Slot  slotfill.Slot
}

// Session is one user's conversational context. It is mutated only while
// the repository's per-user lock is held.
type Session struct {
	UserID       string
	State        State
	Intent       extraction.Intent
	Draft        slotfill.Draft
	Target       calendar.EventRef
	Candidates   []calendar.EventRef
	PendingOp    *calendar.Operation
	OpCounter    uint64
	CreatedAt    time.Time
	LastActivity time.Time
}

// Reset discards the in-progress draft and candidates and returns the
// session to idle. The operation counter survives so correlation ids for
// later operations stay distinct.
func (s *Session) Reset() {
	s.State = State{Phase: PhaseIdle}
	s.Intent = extraction.IntentUnknown
	s.Draft = slotfill.Draft{}
	s.Target = calendar.EventRef{}
	s.Candidates = nil
	s.PendingOp = nil
}

// NextOpCounter bumps the monotonic per-session operation counter.
func (s *Session) NextOpCounter() uint64 {
	s.OpCounter++
	return s.OpCounter
}

type sessionEntry struct {
	mu      sync.Mutex
	session *Session
}

// Repository owns the per-user sessions and their locks. Acquire blocks
// until the caller holds the user's lock; everything done with the
// returned session up to Release happens under it, so the state machine
// never observes interleaved transitions for one user.
type Repository struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func NewRepository() *Repository {
	return &Repository{entries: make(map[string]*sessionEntry)}
}

func (r *Repository) Acquire(userID string, now time.Time) *Session {
	for {
		r.mu.Lock()
		entry, ok := r.entries[userID]
		if !ok {
			entry = &sessionEntry{session: &Session{
				UserID:       userID,
				State:        State{Phase: PhaseIdle},
				Intent:       extraction.IntentUnknown,
				CreatedAt:    now,
				LastActivity: now,
			}}
			r.entries[userID] = entry
		}
		r.mu.Unlock()

		entry.mu.Lock()

		// The sweep may have evicted this entry between the map read and
		// the lock. Once we hold the lock on an entry still in the map it
		// cannot be evicted, so Release finds the same entry by key.
		r.mu.Lock()
		current := r.entries[userID]
		r.mu.Unlock()
		if current == entry {
			return entry.session
		}
		entry.mu.Unlock()
	}
}

func (r *Repository) Release(userID string) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	r.mu.Unlock()
	if ok {
		entry.mu.Unlock()
	}
}

// Sweep evicts sessions idle longer than maxIdle and returns how many it
// discarded. Sessions whose lock is currently held are processing a
// message and are skipped; they are not stale.
func (r *Repository) Sweep(now time.Time, maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for userID, entry := range r.entries {
		if !entry.mu.TryLock() {
			continue
		}
		stale := now.Sub(entry.session.LastActivity) > maxIdle
		entry.mu.Unlock()
		if stale {
			delete(r.entries, userID)
			evicted++
		}
	}
	return evicted
}

func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// rateLimiter is a per-user sliding window over message timestamps.
type rateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{max: max, window: window, hits: make(map[string][]time.Time)}
}

func (l *rateLimiter) Allow(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.hits[userID][:0]
	for _, t := range l.hits[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.hits[userID] = kept
		return false
	}
	l.hits[userID] = append(kept, now)
	return true
}

// prune drops users whose every hit has aged out of the window, so the
// map does not grow with one slice per user ever seen.
func (l *rateLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	for userID, hits := range l.hits {
		kept := hits[:0]
		for _, t := range hits {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.hits, userID)
			continue
		}
		l.hits[userID] = kept
	}
}
