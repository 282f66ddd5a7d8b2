package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPBackend talks to a remote calendar service over JSON REST. The
// correlation id travels as an Idempotency-Key header so the remote side
// can dedupe retransmissions.
type HTTPBackend struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

type HTTPConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("calendar base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL:  base,
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type wireEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"` // RFC3339 with offset
	End   string `json:"end"`
	URL   string `json:"url,omitempty"`
}

type wireOperation struct {
	Title           string `json:"title,omitempty"`
	Start           string `json:"start,omitempty"`
	DurationMinutes int64  `json:"duration_minutes,omitempty"`
	Description     string `json:"description,omitempty"`
	Location        string `json:"location,omitempty"`
}

func (b *HTTPBackend) Apply(ctx context.Context, op Operation) (EventRef, error) {
	body := wireOperation{
		Title:       op.Fields.Title,
		Description: op.Fields.Description,
		Location:    op.Fields.Location,
	}
	if !op.Fields.Start.IsZero() {
		body.Start = op.Fields.Start.Format(time.RFC3339)
	}
	if op.Fields.Duration > 0 {
		body.DurationMinutes = int64(op.Fields.Duration / time.Minute)
	}

	var method, path string
	switch op.Kind {
	case OpCreate:
		method, path = http.MethodPost, "/events"
	case OpUpdate:
		method, path = http.MethodPatch, "/events/"+url.PathEscape(op.TargetID)
	case OpDelete:
		method, path = http.MethodDelete, "/events/"+url.PathEscape(op.TargetID)
	default:
		return EventRef{}, &BackendError{Kind: op.Kind, Err: fmt.Errorf("unsupported operation kind")}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return EventRef{}, fmt.Errorf("encode operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return EventRef{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if op.CorrelationID != "" {
		req.Header.Set("Idempotency-Key", op.CorrelationID)
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return EventRef{}, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return EventRef{}, fmt.Errorf("read calendar response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return EventRef{}, &BackendError{Kind: op.Kind, Err: fmt.Errorf("%w: %s", ErrNotFound, op.TargetID)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return EventRef{}, &BackendError{Kind: op.Kind, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(data))}
	case resp.StatusCode >= 500:
		return EventRef{}, fmt.Errorf("calendar server error: status %d", resp.StatusCode)
	}

	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return EventRef{}, fmt.Errorf("decode calendar response: %w", err)
	}
	return wire.toRef()
}

func (b *HTTPBackend) SearchByText(ctx context.Context, query string) ([]EventRef, error) {
	endpoint := b.baseURL + "/events?query=" + url.QueryEscape(query)
	return b.list(ctx, endpoint)
}

func (b *HTTPBackend) ListRange(ctx context.Context, from, to time.Time) ([]EventRef, error) {
	endpoint := fmt.Sprintf("%s/events?from=%s&to=%s",
		b.baseURL,
		url.QueryEscape(from.Format(time.RFC3339)),
		url.QueryEscape(to.Format(time.RFC3339)))
	return b.list(ctx, endpoint)
}

func (b *HTTPBackend) list(ctx context.Context, endpoint string) ([]EventRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read calendar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar list failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Events []wireEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode calendar response: %w", err)
	}
	refs := make([]EventRef, 0, len(payload.Events))
	for _, wire := range payload.Events {
		ref, err := wire.toRef()
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (b *HTTPBackend) authorize(req *http.Request) {
	if b.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiToken)
	}
}

func (w wireEvent) toRef() (EventRef, error) {
	ref := EventRef{ID: w.ID, Title: w.Title, URL: w.URL}
	if w.Start != "" {
		start, err := time.Parse(time.RFC3339, w.Start)
		if err != nil {
			return EventRef{}, fmt.Errorf("decode event start: %w", err)
		}
		ref.Start = start
	}
	if w.End != "" {
		end, err := time.Parse(time.RFC3339, w.End)
		if err != nil {
			return EventRef{}, fmt.Errorf("decode event end: %w", err)
		}
		ref.End = end
	}
	return ref, nil
}

func truncateBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
