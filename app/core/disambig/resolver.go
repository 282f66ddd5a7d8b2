// Package disambig picks the event a user is referring to out of their
// recently touched events, or produces the shortlist to ask them with.
package disambig

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"schedmate/app/core/calendar"
)

// maxChoices caps how many candidates a clarification question offers.
const maxChoices = 5

// Reference is the user's description of the event they mean. Candidates
// are expected most recently touched first.
type Reference struct {
	Title string    // free-text title fragment, may be empty
	Date  time.Time // zero when the user gave no date
	Last  bool      // "the last event", "that one"
}

// Outcome of a resolution attempt.
type Outcome struct {
	Match   calendar.EventRef   // valid when Resolved
	Choices []calendar.EventRef // ranked shortlist when Ambiguous
	State   State
}

type State int

const (
	NotFound State = iota
	Resolved
	Ambiguous
)

var lastPhrases = []string{
	"last event", "the last one", "that event", "that one",
	"previous event", "my last event", "it",
}

// IsLastReference reports whether the text points at the most recently
// touched event rather than describing one.
func IsLastReference(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, ".!?")
	for _, p := range lastPhrases {
		if s == p {
			return true
		}
	}
	return false
}

type scored struct {
	ref   calendar.EventRef
	score int
	days  int // date distance, large when no date given
	order int // position in the recency list
}

// Resolve matches a reference against the candidate list. Exact title
// matches outrank substring matches, which outrank word overlap; a date
// narrows ties by proximity, and recency breaks whatever is left.
func Resolve(ref Reference, candidates []calendar.EventRef) Outcome {
	if len(candidates) == 0 {
		return Outcome{State: NotFound}
	}
	if ref.Last {
		return Outcome{State: Resolved, Match: candidates[0]}
	}

	title := normalize(ref.Title)
	ranked := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		s := scored{ref: c, order: i, days: 1 << 20}
		s.score = titleScore(title, normalize(c.Title))
		if !ref.Date.IsZero() {
			s.days = dayDistance(ref.Date, c.Start)
			if s.days == 0 {
				s.score++
			}
		}
		if s.score > 0 || (title == "" && s.days == 0) {
			ranked = append(ranked, s)
		}
	}
	if len(ranked) == 0 {
		return Outcome{State: NotFound}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].days != ranked[j].days {
			return ranked[i].days < ranked[j].days
		}
		return ranked[i].order < ranked[j].order
	})

	if len(ranked) == 1 || strictlyAhead(ranked[0], ranked[1]) {
		return Outcome{State: Resolved, Match: ranked[0].ref}
	}

	n := len(ranked)
	if n > maxChoices {
		n = maxChoices
	}
	choices := make([]calendar.EventRef, n)
	for i := range choices {
		choices[i] = ranked[i].ref
	}
	return Outcome{State: Ambiguous, Choices: choices}
}

// Select interprets the user's answer to a clarification question: a
// 1-based index, an ordinal word, or a fragment of one option's title.
func Select(answer string, options []calendar.EventRef) (calendar.EventRef, bool) {
	s := normalize(answer)
	if s == "" || len(options) == 0 {
		return calendar.EventRef{}, false
	}

	if idx, ok := parseIndex(s, len(options)); ok {
		return options[idx], true
	}

	matched := -1
	for i, opt := range options {
		t := normalize(opt.Title)
		if t == s || strings.Contains(t, s) {
			if matched >= 0 {
				return calendar.EventRef{}, false
			}
			matched = i
		}
	}
	if matched >= 0 {
		return options[matched], true
	}
	return calendar.EventRef{}, false
}

var ordinals = map[string]int{
	"first": 0, "second": 1, "third": 2, "fourth": 3, "fifth": 4,
	"1st": 0, "2nd": 1, "3rd": 2, "4th": 3, "5th": 4,
}

func parseIndex(s string, n int) (int, bool) {
	s = strings.TrimPrefix(s, "the ")
	s = strings.TrimSuffix(s, " one")
	s = strings.TrimSuffix(s, " option")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "number ")
	s = strings.TrimPrefix(s, "option ")

	if idx, ok := ordinals[s]; ok && idx < n {
		return idx, true
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 1 && v <= n {
		return v - 1, true
	}
	return 0, false
}

func titleScore(query, title string) int {
	if query == "" {
		return 0
	}
	if title == query {
		return 100
	}
	if strings.Contains(title, query) || strings.Contains(query, title) {
		return 50
	}
	score := 0
	titleWords := strings.Fields(title)
	for _, w := range strings.Fields(query) {
		for _, tw := range titleWords {
			if w == tw {
				score += 10
				break
			}
		}
	}
	return score
}

func strictlyAhead(a, b scored) bool {
	if a.score != b.score {
		return true
	}
	return a.days < b.days
}

func dayDistance(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(b.Sub(a).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
