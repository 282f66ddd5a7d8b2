package slotfill

import (
	"errors"
	"testing"
	"time"

	"schedmate/app/core/calendar"
	"schedmate/app/core/extraction"
)

var utcNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) // Monday

func TestMergePreservesExistingOnAbsentFields(t *testing.T) {
	engine := NewEngine(time.Hour)
	draft := Draft{Title: "Call John", Date: "tomorrow"}

	engine.Merge(&draft, extraction.Fields{Time: "3pm"})
	if draft.Title != "Call John" || draft.Date != "tomorrow" || draft.Time != "3pm" {
		t.Fatalf("absent fields must not erase collected values: %+v", draft)
	}

	engine.Merge(&draft, extraction.Fields{Date: "friday"})
	if draft.Date != "friday" {
		t.Fatalf("explicit new value must overwrite, got %q", draft.Date)
	}
	if draft.Time != "3pm" {
		t.Fatalf("untouched field changed: %q", draft.Time)
	}
}

func TestMergeSequencePreservesOnceSet(t *testing.T) {
	engine := NewEngine(time.Hour)
	draft := Draft{}
	merges := []extraction.Fields{
		{Title: "Standup"},
		{Date: "tomorrow"},
		{},
		{Time: "morning"},
		{},
	}
	for _, f := range merges {
		engine.Merge(&draft, f)
	}
	if draft.Title != "Standup" || draft.Date != "tomorrow" || draft.Time != "morning" {
		t.Fatalf("fields lost across merges: %+v", draft)
	}
}

func TestNextSlotOrder(t *testing.T) {
	engine := NewEngine(time.Hour)

	slot, ok := engine.NextSlot(Draft{})
	if !ok || slot != SlotDate {
		t.Fatalf("empty draft should ask date first, got %v", slot)
	}

	slot, ok = engine.NextSlot(Draft{Date: "tomorrow"})
	if !ok || slot != SlotTime {
		t.Fatalf("date-only draft should ask time, got %v", slot)
	}

	slot, ok = engine.NextSlot(Draft{Date: "tomorrow", Time: "3pm"})
	if !ok || slot != SlotTitle {
		t.Fatalf("should ask title, got %v", slot)
	}

	if _, ok := engine.NextSlot(Draft{Title: "Call", Date: "tomorrow", Time: "3pm"}); ok {
		t.Fatal("complete draft should have no next slot")
	}
}

func TestFinalizeCreateAppliesDefaultDuration(t *testing.T) {
	engine := NewEngine(time.Hour)
	fields, err := engine.FinalizeCreate(Draft{Title: "Call John", Date: "tomorrow", Time: "3pm"}, utcNow)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	want := time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)
	if !fields.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", fields.Start, want)
	}
	if fields.Duration != time.Hour {
		t.Fatalf("default duration not applied: %v", fields.Duration)
	}
}

func TestFinalizeCreateParsesExplicitDuration(t *testing.T) {
	engine := NewEngine(time.Hour)
	fields, err := engine.FinalizeCreate(Draft{
		Title: "Workshop", Date: "friday", Time: "2pm", Duration: "90 minutes",
	}, utcNow)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if fields.Duration != 90*time.Minute {
		t.Fatalf("duration = %v, want 90m", fields.Duration)
	}
}

func TestFinalizeCreateReopensBadSlot(t *testing.T) {
	engine := NewEngine(time.Hour)
	_, err := engine.FinalizeCreate(Draft{Title: "X", Date: "whenever", Time: "3pm"}, utcNow)
	var serr *SlotError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SlotError, got %v", err)
	}
	if serr.Slot != SlotDate {
		t.Fatalf("expected date slot to reopen, got %s", serr.Slot)
	}
}

func TestFinalizeUpdateKeepsOriginalDate(t *testing.T) {
	engine := NewEngine(time.Hour)
	target := calendar.EventRef{
		ID:    "evt-1",
		Title: "Team Meeting",
		Start: time.Date(2025, 6, 5, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 5, 15, 0, 0, 0, time.UTC),
	}

	fields, err := engine.FinalizeUpdate(Draft{Time: "4pm", TargetID: "evt-1"}, target, utcNow)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	want := time.Date(2025, 6, 5, 16, 0, 0, 0, time.UTC)
	if !fields.Start.Equal(want) {
		t.Fatalf("start = %v, want original date at 16:00 (%v)", fields.Start, want)
	}
	if fields.Title != "" {
		t.Fatalf("title should be unchanged, got %q", fields.Title)
	}
}

func TestHasChanges(t *testing.T) {
	engine := NewEngine(time.Hour)
	if engine.HasChanges(Draft{TargetID: "evt-1"}) {
		t.Fatal("target alone is not a change")
	}
	if !engine.HasChanges(Draft{Time: "4pm"}) {
		t.Fatal("time fragment is a change")
	}
}
