package view

import (
	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
)

// Params is the consumer-owned view state.
type Params struct {
	Key       SortKey   `json:"sort_key"`
	Direction Direction `json:"direction"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
}

// DefaultParams 默认按时间倒序，每页10条
func DefaultParams() Params {
	return Params{
		Key:       SortByTimestamp,
		Direction: Descending,
		Page:      1,
		PageSize:  DefaultPageSize,
	}
}

// SetPageSize changes the page size and, when it actually changes, goes back to page 1.
func (p *Params) SetPageSize(n int) {
	if n < 1 {
		n = 1
	}
	if n == p.PageSize {
		return
	}
	p.PageSize = n
	p.Page = 1
}

// SetPage stores the page as given; out-of-range pages render empty.
func (p *Params) SetPage(n int) {
	p.Page = n
}

// ToggleSort flips the direction when key is already active, otherwise sorts by key ascending.
func (p *Params) ToggleSort(key SortKey) {
	if key == p.Key {
		if p.Direction == Ascending {
			p.Direction = Descending
		} else {
			p.Direction = Ascending
		}
		return
	}
	p.Key = key
	p.Direction = Ascending
}

// Normalized fills zero fields with defaults. Page is left alone.
func (p Params) Normalized() Params {
	d := DefaultParams()
	if _, err := ParseSortKey(string(p.Key)); err != nil {
		p.Key = d.Key
	}
	if _, err := ParseDirection(string(p.Direction)); err != nil {
		p.Direction = d.Direction
	}
	if p.PageSize < 1 {
		p.PageSize = d.PageSize
	}
	return p
}

type Page struct {
	Items      []mxm.Feedback `json:"items"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
	Total      int            `json:"total"`
	SortKey    SortKey        `json:"sort_key"`
	Direction  Direction      `json:"direction"`
}

type Result struct {
	Page    Page     `json:"page"`
	Ratings []Bucket `json:"ratings"`
}

// Build sorts, paginates and aggregates in one pass over a snapshot.
func Build(records []mxm.Feedback, p Params, categories []mxm.Rating) Result {
	sorted := SortRecords(records, p.Key, p.Direction)
	return Result{
		Page: Page{
			Items:      Paginate(sorted, p.Page, p.PageSize),
			Page:       p.Page,
			PageSize:   p.PageSize,
			TotalPages: TotalPages(len(records), p.PageSize),
			Total:      len(records),
			SortKey:    p.Key,
			Direction:  p.Direction,
		},
		Ratings: AggregateByRating(records, categories),
	}
}
