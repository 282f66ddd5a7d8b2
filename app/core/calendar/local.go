package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// LocalBackend is an in-process calendar used for CLI-only deployments and
// tests. It honors the idempotence contract: an operation resubmitted with
// a correlation id it has already applied returns the original result
// without repeating the effect.
type LocalBackend struct {
	mu      sync.Mutex
	counter uint64
	events  map[string]EventRef
	seq     map[string]uint64 // last-modified order for search recency
	applied map[string]EventRef
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		events:  make(map[string]EventRef),
		seq:     make(map[string]uint64),
		applied: make(map[string]EventRef),
	}
}

func (b *LocalBackend) Apply(_ context.Context, op Operation) (EventRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if op.CorrelationID != "" {
		if ref, done := b.applied[op.CorrelationID]; done {
			return ref, nil
		}
	}

	var ref EventRef
	switch op.Kind {
	case OpCreate:
		b.counter++
		duration := op.Fields.Duration
		if duration <= 0 {
			duration = time.Hour
		}
		ref = EventRef{
			ID:    fmt.Sprintf("evt-%d", b.counter),
			Title: op.Fields.Title,
			Start: op.Fields.Start,
			End:   op.Fields.Start.Add(duration),
		}
		b.events[ref.ID] = ref
		b.seq[ref.ID] = b.counter

	case OpUpdate:
		existing, ok := b.events[op.TargetID]
		if !ok {
			return EventRef{}, &BackendError{Kind: op.Kind, Err: fmt.Errorf("%w: %s", ErrNotFound, op.TargetID)}
		}
		duration := existing.End.Sub(existing.Start)
		if op.Fields.Title != "" {
			existing.Title = op.Fields.Title
		}
		if !op.Fields.Start.IsZero() {
			existing.Start = op.Fields.Start
		}
		if op.Fields.Duration > 0 {
			duration = op.Fields.Duration
		}
		existing.End = existing.Start.Add(duration)
		b.counter++
		b.events[existing.ID] = existing
		b.seq[existing.ID] = b.counter
		ref = existing

	case OpDelete:
		existing, ok := b.events[op.TargetID]
		if !ok {
			return EventRef{}, &BackendError{Kind: op.Kind, Err: fmt.Errorf("%w: %s", ErrNotFound, op.TargetID)}
		}
		delete(b.events, op.TargetID)
		delete(b.seq, op.TargetID)
		ref = existing

	default:
		return EventRef{}, &BackendError{Kind: op.Kind, Err: fmt.Errorf("unsupported operation kind")}
	}

	if op.CorrelationID != "" {
		b.applied[op.CorrelationID] = ref
	}
	return ref, nil
}

func (b *LocalBackend) SearchByText(_ context.Context, query string) ([]EventRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	matches := make([]EventRef, 0, 4)
	for _, ref := range b.events {
		if needle == "" || strings.Contains(strings.ToLower(ref.Title), needle) {
			matches = append(matches, ref)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return b.seq[matches[i].ID] > b.seq[matches[j].ID] })
	return matches, nil
}

func (b *LocalBackend) ListRange(_ context.Context, from, to time.Time) ([]EventRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matches := make([]EventRef, 0, 4)
	for _, ref := range b.events {
		if ref.Start.Before(from) || !ref.Start.Before(to) {
			continue
		}
		matches = append(matches, ref)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start.Before(matches[j].Start) })
	return matches, nil
}

// EventCount reports how many events currently exist.
func (b *LocalBackend) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
