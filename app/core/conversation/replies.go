package conversation

import (
	"fmt"
	"strings"
	"time"

	"schedmate/app/core/calendar"
	"schedmate/app/core/slotfill"
)

const helpText = `I can manage your calendar from plain messages. Try:
- "Schedule a meeting with the team on Friday at 2pm"
- "Move my dentist appointment to 4pm"
- "Cancel my last event"
- "What's on my calendar tomorrow?"
Say "cancel" at any point to drop what we were working on.`

const (
	replyClarify      = "I didn't catch that. Tell me what you'd like to schedule, change or cancel, or say \"help\"."
	replyTransient    = "I'm having trouble reaching my services right now. Please try again in a moment."
	replyRateLimited  = "You're sending messages a little too fast. Give me a few seconds and try again."
	replyDiscarded    = "Okay, I've dropped that."
	replyRecoveryHint = "The last operation didn't go through. Say \"retry\" to try it again, or \"cancel\" to drop it."
	replyNoRecent     = "I don't have a recent event for you. Tell me the event's name instead."
)

func slotPrompt(slot slotfill.Slot) string {
	switch slot {
	case slotfill.SlotDate:
		return "What date should that be on?"
	case slotfill.SlotTime:
		return "What time works for you?"
	case slotfill.SlotTitle:
		return "What should I call this event?"
	case slotfill.SlotDuration:
		return "How long should it run?"
	}
	return "Could you tell me a bit more?"
}

func reaskPrompt(slot slotfill.Slot) string {
	switch slot {
	case slotfill.SlotDate:
		return "I couldn't make sense of that date. Could you give it another way, like \"tomorrow\" or \"June 5\"?"
	case slotfill.SlotTime:
		return "I couldn't make sense of that time. Could you give it like \"3pm\" or \"15:00\"?"
	case slotfill.SlotDuration:
		return "I couldn't make sense of that duration. Could you give it like \"30 minutes\" or \"1 hour\"?"
	}
	return "I couldn't make sense of that. Could you rephrase?"
}

func formatStart(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon, Jan 2 at 3:04 PM")
}

func eventLine(ref calendar.EventRef, loc *time.Location) string {
	if ref.Start.IsZero() {
		return ref.Title
	}
	return fmt.Sprintf("%s (%s)", ref.Title, formatStart(ref.Start, loc))
}

func candidateList(candidates []calendar.EventRef, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("I found a few events that could match. Which one do you mean?\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, eventLine(c, loc))
	}
	b.WriteString("Reply with a number or describe it more precisely.")
	return b.String()
}

func createdReply(ref calendar.EventRef, loc *time.Location) string {
	return fmt.Sprintf("Done! I've scheduled %q for %s.", ref.Title, formatStart(ref.Start, loc))
}

func updatedReply(ref calendar.EventRef, loc *time.Location) string {
	return fmt.Sprintf("Done! %q is now set for %s.", ref.Title, formatStart(ref.Start, loc))
}

func cancelledReply(ref calendar.EventRef) string {
	return fmt.Sprintf("Done! I've cancelled %q.", ref.Title)
}

func confirmCancelPrompt(ref calendar.EventRef, loc *time.Location) string {
	return fmt.Sprintf("Should I cancel %s? (yes/no)", eventLine(ref, loc))
}

func confirmCreatePrompt(d slotfill.Draft) string {
	parts := []string{fmt.Sprintf("%q on %s at %s", d.Title, d.Date, d.Time)}
	if d.Duration != "" {
		parts = append(parts, "for "+d.Duration)
	}
	return fmt.Sprintf("Should I schedule %s? (yes/no)", strings.Join(parts, " "))
}

func confirmUpdatePrompt(target calendar.EventRef, loc *time.Location) string {
	return fmt.Sprintf("Should I apply those changes to %s? (yes/no)", eventLine(target, loc))
}

func queryReply(label string, events []calendar.EventRef, loc *time.Location) string {
	if len(events) == 0 {
		return fmt.Sprintf("Nothing on your calendar %s.", label)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here's what you have %s:\n", label)
	for i, e := range events {
		fmt.Fprintf(&b, "%d. %s\n", i+1, eventLine(e, loc))
	}
	return strings.TrimRight(b.String(), "\n")
}

func notFoundReply(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "I couldn't find a matching event on your calendar."
	}
	return fmt.Sprintf("I couldn't find an event matching %q on your calendar.", hint)
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "yep", "yeah", "sure", "ok", "okay", "confirm", "do it":
		return true
	}
	return false
}

func isNo(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no", "n", "nope", "nah", "don't", "stop":
		return true
	}
	return false
}

func isCancelCommand(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cancel", "/cancel", "never mind", "nevermind", "forget it":
		return true
	}
	return false
}

func isRetryCommand(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "retry", "/retry", "try again":
		return true
	}
	return false
}

func isHelpCommand(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "help", "/help", "/start":
		return true
	}
	return false
}
