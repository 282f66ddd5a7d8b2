// Package extraction wraps the external NLP service that turns free-form
// chat messages into structured scheduling intents. The adapter validates
// every response against a strict schema before any field reaches the rest
// of the engine, and it never mutates session state.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"schedmate/app/pkg/retry"
)

type Intent string

const (
	IntentCreate  Intent = "create"
	IntentEdit    Intent = "edit"
	IntentCancel  Intent = "cancel"
	IntentQuery   Intent = "query"
	IntentHelp    Intent = "help"
	IntentUnknown Intent = "unknown"
)

// Fields carries the partial draft-shaped mapping extracted from one
// message. Empty string means "not mentioned"; a merge never lets an empty
// field erase a previously collected value.
type Fields struct {
	Title       string
	Date        string
	Time        string
	Duration    string
	Description string
	Location    string
	DateRange   string
}

// Result is produced fresh per inbound message and discarded after the
// merge step.
type Result struct {
	Intent     Intent
	Fields     Fields
	TargetHint string
	Confidence float64
}

// SessionContext is the prior-state snapshot sent along with each request
// so the service can bias its parse toward the slot being collected.
type SessionContext struct {
	State       string
	PendingSlot string
	DraftTitle  string
	DraftDate   string
	DraftTime   string
}

// TransientError marks a network or timeout failure that survived the
// retry schedule.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("extraction service unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ValidationError marks a response that did not conform to the expected
// schema. Callers treat it as an unknown intent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid extraction response: " + e.Reason
}

// Client is the raw completion call against the NLP service.
type Client interface {
	Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

type Adapter struct {
	client  Client
	schema  *jsonschema.Schema
	policy  retry.Policy
	timeout time.Duration
}

func NewAdapter(client Client, policy retry.Policy, timeout time.Duration) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("extraction client is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return &Adapter{client: client, schema: schema, policy: policy, timeout: timeout}, nil
}

// Extract runs one message through the service and returns the validated
// result. Network failures are retried per the adapter policy and surface
// as *TransientError once exhausted; malformed responses surface as
// *ValidationError without retrying.
func (a *Adapter) Extract(ctx context.Context, message string, sctx SessionContext) (Result, error) {
	userPrompt, err := buildUserPrompt(message, sctx)
	if err != nil {
		return Result{}, err
	}

	var raw string
	callErr := a.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		out, err := a.client.Complete(attemptCtx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if callErr != nil {
		return Result{}, &TransientError{Err: callErr}
	}

	return a.parse(raw)
}

func (a *Adapter) parse(raw string) (Result, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return Result{}, &ValidationError{Reason: "no JSON object in response"}
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return Result{}, &ValidationError{Reason: err.Error()}
	}
	if err := a.schema.Validate(doc); err != nil {
		return Result{}, &ValidationError{Reason: err.Error()}
	}

	parsed := gjson.Parse(payload)
	result := Result{
		Intent:     Intent(parsed.Get("intent").String()),
		TargetHint: strings.TrimSpace(parsed.Get("target_hint").String()),
		Confidence: parsed.Get("confidence").Float(),
		Fields: Fields{
			Title:       strings.TrimSpace(parsed.Get("fields.title").String()),
			Date:        strings.TrimSpace(parsed.Get("fields.date").String()),
			Time:        strings.TrimSpace(parsed.Get("fields.time").String()),
			Duration:    strings.TrimSpace(parsed.Get("fields.duration").String()),
			Description: strings.TrimSpace(parsed.Get("fields.description").String()),
			Location:    strings.TrimSpace(parsed.Get("fields.location").String()),
			DateRange:   strings.TrimSpace(parsed.Get("fields.date_range").String()),
		},
	}
	return result, nil
}

func buildUserPrompt(message string, sctx SessionContext) (string, error) {
	snapshot := "{}"
	var err error
	set := func(path, value string) {
		if err != nil || value == "" {
			return
		}
		snapshot, err = sjson.Set(snapshot, path, value)
	}
	set("state", sctx.State)
	set("pending_slot", sctx.PendingSlot)
	set("draft.title", sctx.DraftTitle)
	set("draft.date", sctx.DraftDate)
	set("draft.time", sctx.DraftTime)
	if err != nil {
		return "", fmt.Errorf("build context snapshot: %w", err)
	}

	var b strings.Builder
	b.WriteString("Session context:\n")
	b.WriteString(snapshot)
	b.WriteString("\n\nMessage:\n")
	b.WriteString(message)
	return b.String(), nil
}

// extractJSONObject returns the first top-level JSON object in raw,
// tolerating markdown code fences and prose wrappers around it.
func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if fenced, ok := strings.CutPrefix(s, "```json"); ok {
		s = fenced
	} else if fenced, ok := strings.CutPrefix(s, "```"); ok {
		s = fenced
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}
