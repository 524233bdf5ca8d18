// Package view derives table pages and chart buckets from a feedback snapshot.
// Every function here is pure: inputs are never modified and nothing returns an error.
package view

import (
	"fmt"
	"strings"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	"golang.org/x/exp/slices"
)

type SortKey string

const (
	SortByID        SortKey = "id"
	SortByUser      SortKey = "user"
	SortByRating    SortKey = "rating"
	SortByTimestamp SortKey = "timestamp"
	SortByComment   SortKey = "comment"
	SortByAnalysis  SortKey = "analysis"
)

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

const DefaultPageSize = 10

func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortByID, SortByUser, SortByRating, SortByTimestamp, SortByComment, SortByAnalysis:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key: %q", s)
}

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Ascending, Descending:
		return d, nil
	}
	return "", fmt.Errorf("unknown sort direction: %q", s)
}

// sortValue returns the comparable string for one field. Timestamps that parse are
// rendered as fixed-width UTC so plain string order is chronological.
func sortValue(r *mxm.Feedback, key SortKey) string {
	switch key {
	case SortByID:
		return r.ID
	case SortByUser:
		return r.User
	case SortByRating:
		return string(r.Rating)
	case SortByTimestamp:
		return timestampKey(r.Timestamp)
	case SortByComment:
		return r.Comment
	case SortByAnalysis:
		return r.Analysis
	}
	return ""
}

// SortRecords returns a new stable-sorted copy of records.
func SortRecords(records []mxm.Feedback, key SortKey, direction Direction) []mxm.Feedback {
	type keyed struct {
		k string
		r mxm.Feedback
	}
	items := make([]keyed, len(records))
	for i := range records {
		items[i] = keyed{k: sortValue(&records[i], key), r: records[i]}
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		c := strings.Compare(a.k, b.k)
		if direction == Descending {
			return -c
		}
		return c
	})

	out := make([]mxm.Feedback, len(items))
	for i := range items {
		out[i] = items[i].r
	}
	return out
}

// Paginate returns page pageIndex (1-based) of size pageSize. Pages past the end,
// and non-positive arguments, yield an empty slice.
func Paginate(records []mxm.Feedback, pageIndex, pageSize int) []mxm.Feedback {
	if pageIndex < 1 || pageSize < 1 {
		return []mxm.Feedback{}
	}
	start := (pageIndex - 1) * pageSize
	if start >= len(records) || start < 0 {
		return []mxm.Feedback{}
	}
	end := start + pageSize
	if end > len(records) || end < start {
		end = len(records)
	}
	return slices.Clone(records[start:end])
}

// TotalPages is ceil(count/pageSize) but never less than 1, so an empty
// collection still reports a single (empty) page.
func TotalPages(count, pageSize int) int {
	if pageSize < 1 || count <= 0 {
		return 1
	}
	return (count + pageSize - 1) / pageSize
}

type Bucket struct {
	Rating mxm.Rating `json:"rating"`
	Count  int        `json:"count"`
}

// AggregateByRating counts records per category, in category order. Ratings outside
// categories are not counted anywhere.
func AggregateByRating(records []mxm.Feedback, categories []mxm.Rating) []Bucket {
	index := make(map[mxm.Rating][]int, len(categories))
	buckets := make([]Bucket, len(categories))
	for i, c := range categories {
		buckets[i] = Bucket{Rating: c}
		index[c] = append(index[c], i)
	}
	for _, r := range records {
		for _, i := range index[r.Rating] {
			buckets[i].Count++
		}
	}
	return buckets
}

// FindByID 按id查找单条反馈
func FindByID(records []mxm.Feedback, id string) (mxm.Feedback, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return mxm.Feedback{}, false
}
