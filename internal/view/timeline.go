package view

import (
	"strings"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	"golang.org/x/exp/slices"
)

// Layouts tried in order; zone-less values are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// fixed width, so lexicographic order == chronological order
const sortableLayout = "2006-01-02T15:04:05.000000000Z"

// ParseTimestamp parses the ISO-8601 style values the store holds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func timestampKey(s string) string {
	t, ok := ParseTimestamp(s)
	if !ok || t.Year() < 0 || t.Year() > 9999 {
		return s
	}
	return t.Format(sortableLayout)
}

// FilterSince keeps records whose timestamp parses and is not before since.
// A zero since keeps everything.
func FilterSince(records []mxm.Feedback, since time.Time) []mxm.Feedback {
	out := make([]mxm.Feedback, 0, len(records))
	for _, r := range records {
		if since.IsZero() {
			out = append(out, r)
			continue
		}
		if t, ok := ParseTimestamp(r.Timestamp); ok && !t.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

type DayCount struct {
	Day   string `json:"day"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

// DailyCounts groups records by UTC calendar day, oldest first.
// Records without a parseable timestamp are skipped.
func DailyCounts(records []mxm.Feedback) []DayCount {
	counts := make(map[string]int)
	for _, r := range records {
		t, ok := ParseTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		counts[t.Format("2006-01-02")]++
	}
	return sortedDays(counts)
}

// MergeDaily adds several daily series together.
func MergeDaily(series ...[]DayCount) []DayCount {
	counts := make(map[string]int)
	for _, s := range series {
		for _, d := range s {
			counts[d.Day] += d.Count
		}
	}
	return sortedDays(counts)
}

func sortedDays(counts map[string]int) []DayCount {
	days := make([]DayCount, 0, len(counts))
	for day, n := range counts {
		days = append(days, DayCount{Day: day, Count: n})
	}
	slices.SortFunc(days, func(a, b DayCount) int {
		return strings.Compare(a.Day, b.Day)
	})
	return days
}
