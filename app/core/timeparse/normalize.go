// Package timeparse maps natural-language date/time fragments onto absolute
// instants relative to a reference clock. All functions are pure: the same
// fragment with the same reference time always yields the same result.
//
// Weekday policy: a bare weekday ("friday") resolves to the next occurrence
// strictly after the reference time, counting today when the requested
// time-of-day is still ahead. "next friday" always lands in the following
// calendar week, skipping the nearer occurrence.
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnparsableDate     = errors.New("timeparse: unrecognized date")
	ErrUnparsableTime     = errors.New("timeparse: unrecognized time")
	ErrUnparsableDuration = errors.New("timeparse: unrecognized duration")
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

// Multi-word phrases must sort before their single-word prefixes.
var namedTimes = []struct {
	phrase string
	hour   int
	minute int
}{
	{"early morning", 7, 0},
	{"late morning", 11, 0},
	{"early afternoon", 13, 0},
	{"late afternoon", 16, 0},
	{"early evening", 17, 0},
	{"late evening", 20, 0},
	{"morning", 9, 0},
	{"noon", 12, 0},
	{"midday", 12, 0},
	{"afternoon", 14, 0},
	{"evening", 18, 0},
	{"tonight", 20, 0},
	{"night", 21, 0},
	{"midnight", 0, 0},
}

var explicitDateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2",
	"Jan 2",
	"2 January",
	"2 Jan",
}

var (
	ordinalDayRe   = regexp.MustCompile(`^(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)$`)
	spokenHourRe   = regexp.MustCompile(`^(\d{1,2})\s*(?:o'?clock)?\s*(?:in the\s+)?(morning|afternoon|evening|night)$`)
	clockRe        = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)
	durationPartRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`)
)

type dateResult struct {
	date             time.Time // midnight in the reference location
	bareWeekdayToday bool
}

// Date resolves a date fragment to midnight of the target day in the
// location of now. Precedence: explicit formats, named relative days,
// weekday references, ordinal day-of-month.
func Date(fragment string, now time.Time) (time.Time, error) {
	res, err := parseDate(fragment, now)
	if err != nil {
		return time.Time{}, err
	}
	return res.date, nil
}

func parseDate(fragment string, now time.Time) (dateResult, error) {
	s := strings.ToLower(strings.TrimSpace(fragment))
	s = strings.TrimPrefix(s, "on ")
	s = strings.TrimSpace(s)
	if s == "" {
		return dateResult{}, ErrUnparsableDate
	}
	loc := now.Location()
	midnight := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}

	for _, format := range explicitDateFormats {
		parsed, err := time.ParseInLocation(format, canonicalCase(s, format), loc)
		if err != nil {
			continue
		}
		if parsed.Year() == 0 {
			parsed = time.Date(now.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, loc)
		}
		return dateResult{date: midnight(parsed)}, nil
	}

	switch s {
	case "today", "tonight":
		return dateResult{date: midnight(now)}, nil
	case "tomorrow":
		return dateResult{date: midnight(now.AddDate(0, 0, 1))}, nil
	case "day after tomorrow", "the day after tomorrow":
		return dateResult{date: midnight(now.AddDate(0, 0, 2))}, nil
	case "next week":
		return dateResult{date: midnight(now.AddDate(0, 0, 7))}, nil
	case "next month":
		return dateResult{date: midnight(now.AddDate(0, 1, 0))}, nil
	}

	if name, hasNext := strings.CutPrefix(s, "next "); hasNext {
		if wd, ok := weekdays[strings.TrimSpace(name)]; ok {
			return dateResult{date: midnight(nextWeekOccurrence(now, wd))}, nil
		}
	}
	if name, hasThis := strings.CutPrefix(s, "this "); hasThis {
		s = strings.TrimSpace(name)
	}
	if wd, ok := weekdays[s]; ok {
		ahead := (int(wd) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			// Same weekday: stays today, Resolve pushes a week when the
			// requested time-of-day has already passed.
			return dateResult{date: midnight(now), bareWeekdayToday: true}, nil
		}
		return dateResult{date: midnight(now.AddDate(0, 0, ahead))}, nil
	}

	if m := ordinalDayRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		candidate := time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, loc)
		if candidate.Day() != day {
			return dateResult{}, fmt.Errorf("%w: %q", ErrUnparsableDate, fragment)
		}
		if candidate.Before(midnight(now)) {
			candidate = candidate.AddDate(0, 1, 0)
		}
		return dateResult{date: candidate}, nil
	}

	return dateResult{}, fmt.Errorf("%w: %q", ErrUnparsableDate, fragment)
}

// nextWeekOccurrence returns the wd occurrence in the calendar week after
// the one containing now (weeks starting Monday).
func nextWeekOccurrence(now time.Time, wd time.Weekday) time.Time {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	startOfNextWeek := now.AddDate(0, 0, 7-daysSinceMonday)
	offset := (int(wd) + 6) % 7 // Monday-based index of wd
	return startOfNextWeek.AddDate(0, 0, offset)
}

// canonicalCase restores title case for month-name formats so that
// lowercased input still matches time.Parse layouts.
func canonicalCase(s string, format string) string {
	if !strings.ContainsAny(format, "J") {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 && w[0] >= 'a' && w[0] <= 'z' {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// TimeOfDay resolves a time fragment to an (hour, minute) pair.
func TimeOfDay(fragment string) (int, int, error) {
	s := strings.ToLower(strings.TrimSpace(fragment))
	s = strings.TrimPrefix(s, "at ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, ErrUnparsableTime
	}

	if m := spokenHourRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour >= 1 && hour <= 12 {
			switch m[2] {
			case "afternoon", "evening", "night":
				if hour < 12 {
					hour += 12
				}
			case "morning":
				if hour == 12 {
					hour = 0
				}
			}
			return hour, 0, nil
		}
	}

	for _, named := range namedTimes {
		if strings.Contains(s, named.phrase) {
			return named.hour, named.minute, nil
		}
	}

	if m := clockRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnparsableTime, fragment)
		}
		if m[3] == "pm" && hour != 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		return hour, minute, nil
	}

	for _, layout := range []string{"15:04", "15.04"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Hour(), parsed.Minute(), nil
		}
	}

	// Compact forms: "930" -> 9:30, "1430" -> 14:30, "15" -> 15:00.
	if digits := strings.TrimSpace(s); isDigits(digits) {
		switch len(digits) {
		case 1, 2:
			hour, _ := strconv.Atoi(digits)
			if hour <= 23 {
				return hour, 0, nil
			}
		case 3:
			hour, _ := strconv.Atoi(digits[:1])
			minute, _ := strconv.Atoi(digits[1:])
			if minute <= 59 {
				return hour, minute, nil
			}
		case 4:
			hour, _ := strconv.Atoi(digits[:2])
			minute, _ := strconv.Atoi(digits[2:])
			if hour <= 23 && minute <= 59 {
				return hour, minute, nil
			}
		}
	}

	return 0, 0, fmt.Errorf("%w: %q", ErrUnparsableTime, fragment)
}

// Resolve combines a date fragment and a time fragment into an absolute
// instant in the location of now.
func Resolve(dateFragment, timeFragment string, now time.Time) (time.Time, error) {
	dres, err := parseDate(dateFragment, now)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := TimeOfDay(timeFragment)
	if err != nil {
		return time.Time{}, err
	}
	d := dres.date
	resolved := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, now.Location())
	if dres.bareWeekdayToday && !resolved.After(now) {
		resolved = resolved.AddDate(0, 0, 7)
	}
	return resolved, nil
}

// Duration parses fragments like "30 minutes", "1 hour 15 minutes", "2h",
// or a bare minute count.
func Duration(fragment string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(fragment))
	if s == "" {
		return 0, ErrUnparsableDuration
	}
	switch s {
	case "half hour", "half an hour", "a half hour":
		return 30 * time.Minute, nil
	case "an hour", "one hour", "1h":
		return time.Hour, nil
	}

	if isDigits(s) {
		minutes, _ := strconv.Atoi(s)
		if minutes <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnparsableDuration, fragment)
		}
		return time.Duration(minutes) * time.Minute, nil
	}

	matches := durationPartRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableDuration, fragment)
	}
	total := time.Duration(0)
	for _, m := range matches {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparsableDuration, fragment)
		}
		if strings.HasPrefix(m[2], "h") {
			total += time.Duration(amount * float64(time.Hour))
		} else {
			total += time.Duration(amount * float64(time.Minute))
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableDuration, fragment)
	}
	return total, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
