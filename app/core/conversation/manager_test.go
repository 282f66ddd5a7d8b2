package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	config "schedmate/app/configs"
	"schedmate/app/core/calendar"
	"schedmate/app/core/eventstore"
	"schedmate/app/core/extraction"
	"schedmate/app/pkg/retry"
	"schedmate/app/pkg/types"
)

// Monday morning.
var refNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type extractorFunc func(message string, sctx extraction.SessionContext) (extraction.Result, error)

func (f extractorFunc) Extract(_ context.Context, message string, sctx extraction.SessionContext) (extraction.Result, error) {
	return f(message, sctx)
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Timezone:             "UTC",
		InactivityTimeoutSec: 1800,
		SweepIntervalSec:     60,
		DefaultDurationMin:   60,
		RateLimitMessages:    100,
		RateLimitWindowSec:   60,
	}
}

func newTestManager(t *testing.T, backend calendar.Backend, extract extractorFunc) (*Manager, *eventstore.Store) {
	t.Helper()
	store, err := eventstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("eventstore open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	submitter := calendar.NewSubmitter(backend, policy, time.Second)
	m := NewManager("SchedMate", extract, submitter, store, testSessionConfig())
	m.now = func() time.Time { return refNow }
	return m, store
}

func send(t *testing.T, m *Manager, userID, text string) string {
	t.Helper()
	reply, err := m.Process(context.Background(), types.Message{
		ID:        "msg-1",
		Content:   text,
		Role:      types.MessageRoleUser,
		ChannelID: "test",
		UserID:    userID,
	})
	if err != nil {
		t.Fatalf("Process(%q) failed: %v", text, err)
	}
	return reply.Content
}

func sessionPhase(m *Manager, userID string) Phase {
	sess := m.sessions.Acquire(userID, refNow)
	phase := sess.State.Phase
	m.sessions.Release(userID)
	return phase
}

func seedEvent(t *testing.T, backend *calendar.LocalBackend, store *eventstore.Store, userID, title string, start time.Time) calendar.EventRef {
	t.Helper()
	ref, err := backend.Apply(context.Background(), calendar.Operation{
		Kind:   calendar.OpCreate,
		Fields: calendar.EventFields{Title: title, Start: start, Duration: time.Hour},
	})
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}
	if err := store.Record(context.Background(), userID, ref); err != nil {
		t.Fatalf("seed record failed: %v", err)
	}
	return ref
}

func TestOneShotCreate(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, _ := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent:     extraction.IntentCreate,
			Fields:     extraction.Fields{Title: "Meeting with team", Date: "friday", Time: "2pm"},
			Confidence: 0.9,
		}, nil
	})

	reply := send(t, m, "u1", "Meeting with team on Friday at 2pm")
	if !strings.Contains(reply, "scheduled") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseIdle {
		t.Fatalf("session should be idle, got %v", got)
	}

	friday := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)
	events, err := backend.ListRange(context.Background(), friday, friday.AddDate(0, 0, 1))
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one event on Friday, got %d (%v)", len(events), err)
	}
	want := time.Date(2025, 6, 6, 14, 0, 0, 0, time.UTC)
	if !events[0].Start.Equal(want) {
		t.Fatalf("start = %v, want %v", events[0].Start, want)
	}
	if events[0].End.Sub(events[0].Start) != time.Hour {
		t.Fatalf("default duration not applied: %v", events[0].End.Sub(events[0].Start))
	}
}

func TestSlotFillingAsksForMissingTime(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, store := newTestManager(t, backend, func(message string, sctx extraction.SessionContext) (extraction.Result, error) {
		if sctx.PendingSlot == "time" {
			return extraction.Result{Fields: extraction.Fields{Time: message}}, nil
		}
		return extraction.Result{
			Intent: extraction.IntentCreate,
			Fields: extraction.Fields{Title: "Call John", Date: "tomorrow"},
		}, nil
	})

	reply := send(t, m, "u1", "Remind me to call John tomorrow")
	if !strings.Contains(strings.ToLower(reply), "time") {
		t.Fatalf("expected a time question, got %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseAwaitingSlot {
		t.Fatalf("phase = %v, want awaiting slot", got)
	}

	reply = send(t, m, "u1", "3pm")
	if !strings.Contains(reply, "scheduled") {
		t.Fatalf("follow-up should complete the draft, got %q", reply)
	}
	last, err := store.Last(context.Background(), "u1")
	if err != nil {
		t.Fatalf("last event missing: %v", err)
	}
	want := time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)
	if !last.Start.Equal(want) {
		t.Fatalf("start = %v, want tomorrow 15:00", last.Start)
	}
}

func TestEditDisambiguation(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, store := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent:     extraction.IntentEdit,
			TargetHint: "my meeting",
			Fields:     extraction.Fields{Time: "4pm"},
		}, nil
	})
	seedEvent(t, backend, store, "u1", "Team Meeting", time.Date(2025, 6, 4, 14, 0, 0, 0, time.UTC))
	latest := seedEvent(t, backend, store, "u1", "Project Meeting", time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC))

	reply := send(t, m, "u1", "Change my meeting time to 4pm")
	if !strings.Contains(reply, "1.") || !strings.Contains(reply, "2.") {
		t.Fatalf("expected a numbered candidate list, got %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseAwaitingDisambiguation {
		t.Fatalf("phase = %v, want awaiting disambiguation", got)
	}

	reply = send(t, m, "u1", "1")
	if !strings.Contains(reply, "now set") {
		t.Fatalf("selection should apply the update, got %q", reply)
	}
	// Most recently touched event ranks first; time moves on its original date.
	events, err := backend.SearchByText(context.Background(), "project meeting")
	if err != nil || len(events) != 1 {
		t.Fatalf("lookup failed: %d (%v)", len(events), err)
	}
	want := time.Date(2025, 6, 5, 16, 0, 0, 0, time.UTC)
	if events[0].ID != latest.ID || !events[0].Start.Equal(want) {
		t.Fatalf("event = %s @ %v, want %s @ %v", events[0].ID, events[0].Start, latest.ID, want)
	}
}

func TestInvalidSelectionKeepsCandidates(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, store := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent:     extraction.IntentEdit,
			TargetHint: "my meeting",
			Fields:     extraction.Fields{Time: "4pm"},
		}, nil
	})
	seedEvent(t, backend, store, "u1", "Team Meeting", time.Date(2025, 6, 4, 14, 0, 0, 0, time.UTC))
	seedEvent(t, backend, store, "u1", "Project Meeting", time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC))

	send(t, m, "u1", "Change my meeting time to 4pm")
	reply := send(t, m, "u1", "7")
	if !strings.Contains(reply, "1.") {
		t.Fatalf("out-of-range selection should re-prompt the list, got %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseAwaitingDisambiguation {
		t.Fatalf("phase = %v, invalid selection must not transition", got)
	}
}

func TestEditLastEventWithEmptyHistory(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, _ := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent:     extraction.IntentEdit,
			TargetHint: "my last event",
			Fields:     extraction.Fields{Time: "5pm"},
		}, nil
	})

	reply := send(t, m, "u1", "edit my last event")
	if reply != replyNoRecent {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseIdle {
		t.Fatalf("phase = %v, want idle", got)
	}
}

func TestCancelRequiresConfirmation(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, store := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{Intent: extraction.IntentCancel, TargetHint: "dentist"}, nil
	})
	seedEvent(t, backend, store, "u1", "Dentist Appointment", time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC))

	reply := send(t, m, "u1", "Cancel my dentist appointment")
	if !strings.Contains(reply, "yes/no") {
		t.Fatalf("expected confirmation prompt, got %q", reply)
	}
	if backend.EventCount() != 1 {
		t.Fatalf("nothing should be deleted before confirmation")
	}

	reply = send(t, m, "u1", "yes")
	if !strings.Contains(reply, "cancelled") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if backend.EventCount() != 0 {
		t.Fatalf("event should be deleted after confirmation")
	}
	if _, err := store.Last(context.Background(), "u1"); err == nil {
		t.Fatalf("cached copy should be dropped with the event")
	}
}

func TestCancelConfirmationNoKeepsEvent(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, store := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{Intent: extraction.IntentCancel, TargetHint: "dentist"}, nil
	})
	seedEvent(t, backend, store, "u1", "Dentist Appointment", time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC))

	send(t, m, "u1", "Cancel my dentist appointment")
	reply := send(t, m, "u1", "no")
	if reply != replyDiscarded {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if backend.EventCount() != 1 {
		t.Fatalf("declining must keep the event")
	}
	if got := sessionPhase(m, "u1"); got != PhaseIdle {
		t.Fatalf("phase = %v, want idle", got)
	}
}

func TestExtractionOutageLeavesStateUntouched(t *testing.T) {
	backend := calendar.NewLocalBackend()
	healthy := true
	m, _ := newTestManager(t, backend, func(message string, sctx extraction.SessionContext) (extraction.Result, error) {
		if !healthy {
			return extraction.Result{}, &extraction.TransientError{Err: errors.New("connection refused")}
		}
		if sctx.PendingSlot == "time" {
			return extraction.Result{Fields: extraction.Fields{Time: message}}, nil
		}
		return extraction.Result{
			Intent: extraction.IntentCreate,
			Fields: extraction.Fields{Title: "Call John", Date: "tomorrow"},
		}, nil
	})

	send(t, m, "u1", "Remind me to call John tomorrow")
	healthy = false

	reply := send(t, m, "u1", "3pm")
	if reply != replyTransient {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseAwaitingSlot {
		t.Fatalf("phase = %v, outage must not change state", got)
	}

	healthy = true
	reply = send(t, m, "u1", "3pm")
	if !strings.Contains(reply, "scheduled") {
		t.Fatalf("draft should survive the outage, got %q", reply)
	}
}

// flakyBackend rejects the first n applies, recording every operation it
// sees.
type flakyBackend struct {
	*calendar.LocalBackend
	failures int
	applies  []calendar.Operation
}

func (b *flakyBackend) Apply(ctx context.Context, op calendar.Operation) (calendar.EventRef, error) {
	b.applies = append(b.applies, op)
	if b.failures > 0 {
		b.failures--
		return calendar.EventRef{}, &calendar.BackendError{Kind: op.Kind, Err: errors.New("quota exceeded")}
	}
	return b.LocalBackend.Apply(ctx, op)
}

func TestErrorRecoveryRetryReusesCorrelationID(t *testing.T) {
	backend := &flakyBackend{LocalBackend: calendar.NewLocalBackend(), failures: 1}
	m, _ := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent: extraction.IntentCreate,
			Fields: extraction.Fields{Title: "Meeting with team", Date: "friday", Time: "2pm"},
		}, nil
	})

	reply := send(t, m, "u1", "Meeting with team on Friday at 2pm")
	if reply != replyRecoveryHint {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseErrorRecovery {
		t.Fatalf("phase = %v, want error recovery", got)
	}

	reply = send(t, m, "u1", "what happened?")
	if reply != replyRecoveryHint {
		t.Fatalf("non-retry message should just re-hint, got %q", reply)
	}

	reply = send(t, m, "u1", "retry")
	if !strings.Contains(reply, "scheduled") {
		t.Fatalf("retry should resubmit, got %q", reply)
	}
	if len(backend.applies) != 2 {
		t.Fatalf("expected 2 applies, got %d", len(backend.applies))
	}
	if backend.applies[0].CorrelationID != backend.applies[1].CorrelationID {
		t.Fatalf("retry must reuse the correlation id: %s vs %s",
			backend.applies[0].CorrelationID, backend.applies[1].CorrelationID)
	}
	if backend.EventCount() != 1 {
		t.Fatalf("expected exactly one event, got %d", backend.EventCount())
	}
}

func TestCancelCommandDiscardsDraft(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, _ := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent: extraction.IntentCreate,
			Fields: extraction.Fields{Title: "Call John", Date: "tomorrow"},
		}, nil
	})

	send(t, m, "u1", "Remind me to call John tomorrow")
	reply := send(t, m, "u1", "cancel")
	if reply != replyDiscarded {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseIdle {
		t.Fatalf("phase = %v, want idle", got)
	}
	if backend.EventCount() != 0 {
		t.Fatalf("no event should be created")
	}
}

func TestQueryListsEvents(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, store := newTestManager(t, backend, func(message string, _ extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{
			Intent: extraction.IntentQuery,
			Fields: extraction.Fields{DateRange: "tomorrow"},
		}, nil
	})
	seedEvent(t, backend, store, "u1", "Standup", time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC))
	seedEvent(t, backend, store, "u1", "Dentist", time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC))

	reply := send(t, m, "u1", "what's on my calendar tomorrow?")
	if !strings.Contains(reply, "Standup") {
		t.Fatalf("expected tomorrow's event, got %q", reply)
	}
	if strings.Contains(reply, "Dentist") {
		t.Fatalf("Wednesday's event should not be listed: %q", reply)
	}
	if got := sessionPhase(m, "u1"); got != PhaseIdle {
		t.Fatalf("phase = %v, query must stay idle", got)
	}
}

func TestRateLimiting(t *testing.T) {
	backend := calendar.NewLocalBackend()
	store, err := eventstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("eventstore open failed: %v", err)
	}
	defer store.Close()

	cfg := testSessionConfig()
	cfg.RateLimitMessages = 2
	submitter := calendar.NewSubmitter(backend, retry.Policy{MaxAttempts: 1}, time.Second)
	m := NewManager("SchedMate", extractorFunc(func(string, extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{Intent: extraction.IntentHelp}, nil
	}), submitter, store, cfg)
	m.now = func() time.Time { return refNow }

	send(t, m, "u1", "hello")
	send(t, m, "u1", "hello")
	reply := send(t, m, "u1", "hello")
	if reply != replyRateLimited {
		t.Fatalf("third message inside the window should be limited, got %q", reply)
	}
	if reply := send(t, m, "u2", "hello"); reply == replyRateLimited {
		t.Fatalf("rate limit must be per user")
	}
}

func TestSweepEvictsOnlyStaleSessions(t *testing.T) {
	backend := calendar.NewLocalBackend()
	m, _ := newTestManager(t, backend, func(string, extraction.SessionContext) (extraction.Result, error) {
		return extraction.Result{Intent: extraction.IntentHelp}, nil
	})

	send(t, m, "stale", "hello")
	m.now = func() time.Time { return refNow.Add(20 * time.Minute) }
	send(t, m, "fresh", "hello")

	m.now = func() time.Time { return refNow.Add(35 * time.Minute) }
	if evicted := m.SweepSessions(); evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if m.sessions.Len() != 1 {
		t.Fatalf("sessions remaining = %d, want 1", m.sessions.Len())
	}
}
