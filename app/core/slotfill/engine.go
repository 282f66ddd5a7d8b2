// Package slotfill merges extraction output into a pending task draft and
// decides which detail to ask for next.
package slotfill

import (
	"errors"
	"fmt"
	"time"

	"schedmate/app/core/calendar"
	"schedmate/app/core/extraction"
	"schedmate/app/core/timeparse"
)

type Slot string

const (
	SlotDate     Slot = "date"
	SlotTime     Slot = "time"
	SlotTitle    Slot = "title"
	SlotDuration Slot = "duration"
)

// askOrder is the fixed priority for follow-up questions, one slot per turn.
var askOrder = []Slot{SlotDate, SlotTime, SlotTitle, SlotDuration}

// Draft is the in-progress task for the current intent. Date, Time and
// Duration stay as the user's own fragments until finalization resolves
// them against the session clock.
type Draft struct {
	Title       string
	Date        string
	Time        string
	Duration    string
	Description string
	Location    string
	TargetID    string // set once an edit/cancel target is resolved
}

// SlotError reports that a collected fragment could not be normalized, so
// the slot has to be asked again.
type SlotError struct {
	Slot Slot
	Err  error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("slot %s: %v", e.Slot, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

type Engine struct {
	defaultDuration time.Duration
}

func NewEngine(defaultDuration time.Duration) *Engine {
	if defaultDuration <= 0 {
		defaultDuration = time.Hour
	}
	return &Engine{defaultDuration: defaultDuration}
}

// Merge folds one extraction result into the draft. A field overwrites only
// when the new value is present; absent fields never erase collected input.
func (e *Engine) Merge(d *Draft, f extraction.Fields) {
	if f.Title != "" {
		d.Title = f.Title
	}
	if f.Date != "" {
		d.Date = f.Date
	}
	if f.Time != "" {
		d.Time = f.Time
	}
	if f.Duration != "" {
		d.Duration = f.Duration
	}
	if f.Description != "" {
		d.Description = f.Description
	}
	if f.Location != "" {
		d.Location = f.Location
	}
}

// MergeAnswer treats a raw reply as the answer for one specific slot, used
// when extraction could not read anything out of a short answer like "3pm".
func (e *Engine) MergeAnswer(d *Draft, slot Slot, answer string) {
	switch slot {
	case SlotDate:
		d.Date = answer
	case SlotTime:
		d.Time = answer
	case SlotTitle:
		d.Title = answer
	case SlotDuration:
		d.Duration = answer
	}
}

// Missing returns the required slots still unfilled for a CREATE draft, in
// ask order. Duration is never required; the default applies at
// finalization.
func (e *Engine) Missing(d Draft) []Slot {
	missing := make([]Slot, 0, 3)
	for _, slot := range askOrder {
		switch slot {
		case SlotDate:
			if d.Date == "" {
				missing = append(missing, slot)
			}
		case SlotTime:
			if d.Time == "" {
				missing = append(missing, slot)
			}
		case SlotTitle:
			if d.Title == "" {
				missing = append(missing, slot)
			}
		}
	}
	return missing
}

// NextSlot returns the next slot to ask for, if any.
func (e *Engine) NextSlot(d Draft) (Slot, bool) {
	missing := e.Missing(d)
	if len(missing) == 0 {
		return "", false
	}
	return missing[0], true
}

// HasChanges reports whether an edit draft carries at least one field to
// apply to its target.
func (e *Engine) HasChanges(d Draft) bool {
	return d.Title != "" || d.Date != "" || d.Time != "" || d.Duration != ""
}

// FinalizeCreate resolves a complete draft into the payload of a CREATE
// operation. The default duration applies here, not earlier.
func (e *Engine) FinalizeCreate(d Draft, now time.Time) (calendar.EventFields, error) {
	start, err := timeparse.Resolve(d.Date, d.Time, now)
	if err != nil {
		return calendar.EventFields{}, normalizeFailure(err)
	}
	duration := e.defaultDuration
	if d.Duration != "" {
		duration, err = timeparse.Duration(d.Duration)
		if err != nil {
			return calendar.EventFields{}, &SlotError{Slot: SlotDuration, Err: err}
		}
	}
	return calendar.EventFields{
		Title:       d.Title,
		Start:       start,
		Duration:    duration,
		Description: d.Description,
		Location:    d.Location,
	}, nil
}

// FinalizeUpdate resolves an edit draft against its target event. Only the
// changed fields are filled in; an absent half of the date/time pair is
// taken from the target's original start.
func (e *Engine) FinalizeUpdate(d Draft, target calendar.EventRef, now time.Time) (calendar.EventFields, error) {
	fields := calendar.EventFields{
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
	}

	if d.Date != "" || d.Time != "" {
		base := target.Start.In(now.Location())
		date := d.Date
		if date == "" {
			date = base.Format("2006-01-02")
		}
		timeOfDay := d.Time
		if timeOfDay == "" {
			timeOfDay = base.Format("15:04")
		}
		start, err := timeparse.Resolve(date, timeOfDay, now)
		if err != nil {
			return calendar.EventFields{}, normalizeFailure(err)
		}
		fields.Start = start
	}

	if d.Duration != "" {
		duration, err := timeparse.Duration(d.Duration)
		if err != nil {
			return calendar.EventFields{}, &SlotError{Slot: SlotDuration, Err: err}
		}
		fields.Duration = duration
	}
	return fields, nil
}

func normalizeFailure(err error) error {
	if errors.Is(err, timeparse.ErrUnparsableDate) {
		return &SlotError{Slot: SlotDate, Err: err}
	}
	return &SlotError{Slot: SlotTime, Err: err}
}
