// Package calendar defines the boundary to the external calendar backend:
// idempotent operations keyed by correlation id, text search, and range
// listing. Timestamps cross this boundary with explicit offsets only.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schedmate/app/pkg/retry"
)

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// EventRef is the backend-owned event identity plus display fields. The
// engine only caches copies for disambiguation lists and "last event"
// shortcuts.
type EventRef struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
	URL   string
}

// EventFields carries the payload of an operation. For updates, zero
// values mean "leave unchanged".
type EventFields struct {
	Title       string
	Start       time.Time
	Duration    time.Duration
	Description string
	Location    string
}

// Operation is exactly one idempotent request against the backend.
// Submitting the same correlation id twice must not duplicate the effect.
type Operation struct {
	Kind          OpKind
	TargetID      string
	Fields        EventFields
	CorrelationID string
}

var ErrNotFound = errors.New("calendar: event not found")

// BackendError marks a rejection by the backend (permission, bad target).
// It is fatal for the operation but never for the collected draft.
type BackendError struct {
	Kind OpKind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("calendar backend rejected %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Backend is the external calendar service.
type Backend interface {
	Apply(ctx context.Context, op Operation) (EventRef, error)
	SearchByText(ctx context.Context, query string) ([]EventRef, error)
	ListRange(ctx context.Context, from, to time.Time) ([]EventRef, error)
}

var correlationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("schedmate/calendar"))

// CorrelationID derives a deterministic id from the operation content, the
// user, and the session's operation counter, so that resubmitting the same
// operation reuses the same id.
func CorrelationID(userID string, op Operation, counter uint64) string {
	start := ""
	if !op.Fields.Start.IsZero() {
		start = op.Fields.Start.Format(time.RFC3339)
	}
	digest := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		userID, op.Kind, op.TargetID, op.Fields.Title, start, op.Fields.Duration/time.Minute, counter)
	return uuid.NewSHA1(correlationNamespace, []byte(digest)).String()
}

// BuildCreate assembles the one CREATE operation for a finalized draft.
func BuildCreate(userID string, fields EventFields, counter uint64) Operation {
	op := Operation{Kind: OpCreate, Fields: fields}
	op.CorrelationID = CorrelationID(userID, op, counter)
	return op
}

// BuildUpdate assembles an UPDATE carrying only the changed fields.
func BuildUpdate(userID string, targetID string, fields EventFields, counter uint64) Operation {
	op := Operation{Kind: OpUpdate, TargetID: targetID, Fields: fields}
	op.CorrelationID = CorrelationID(userID, op, counter)
	return op
}

// BuildDelete assembles a DELETE for a resolved target.
func BuildDelete(userID string, targetID string, counter uint64) Operation {
	op := Operation{Kind: OpDelete, TargetID: targetID}
	op.CorrelationID = CorrelationID(userID, op, counter)
	return op
}

// Submitter wraps backend submission in the shared retry policy and the
// external-call timeout. BackendError rejections are not retried.
type Submitter struct {
	backend Backend
	policy  retry.Policy
	timeout time.Duration
}

func NewSubmitter(backend Backend, policy retry.Policy, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Submitter{backend: backend, policy: policy, timeout: timeout}
}

func (s *Submitter) Submit(ctx context.Context, op Operation) (EventRef, error) {
	var ref EventRef
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		out, err := s.backend.Apply(attemptCtx, op)
		if err != nil {
			var berr *BackendError
			if errors.As(err, &berr) || errors.Is(err, ErrNotFound) {
				return retry.Stop(err)
			}
			return err
		}
		ref = out
		return nil
	})
	if err != nil {
		return EventRef{}, err
	}
	return ref, nil
}

func (s *Submitter) Backend() Backend {
	return s.backend
}
