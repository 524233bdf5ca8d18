package view

import (
	"testing"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams_SetPageSizeResetsPage(t *testing.T) {
	p := DefaultParams()
	p.SetPage(4)

	p.SetPageSize(p.PageSize)
	assert.Equal(t, 4, p.Page, "same size keeps the page")

	p.SetPageSize(25)
	assert.Equal(t, 25, p.PageSize)
	assert.Equal(t, 1, p.Page)

	p.SetPage(2)
	p.SetPageSize(0)
	assert.Equal(t, 1, p.PageSize)
	assert.Equal(t, 1, p.Page)
}

func TestParams_ToggleSort(t *testing.T) {
	p := DefaultParams()
	require.Equal(t, SortByTimestamp, p.Key)
	require.Equal(t, Descending, p.Direction)

	p.ToggleSort(SortByTimestamp)
	assert.Equal(t, Ascending, p.Direction)
	p.ToggleSort(SortByTimestamp)
	assert.Equal(t, Descending, p.Direction)

	p.ToggleSort(SortByUser)
	assert.Equal(t, SortByUser, p.Key)
	assert.Equal(t, Ascending, p.Direction)
}

func TestParams_Normalized(t *testing.T) {
	p := Params{Key: "bogus", Page: 3}.Normalized()
	assert.Equal(t, Params{Key: SortByTimestamp, Direction: Descending, Page: 3, PageSize: DefaultPageSize}, p)
}

func TestBuild(t *testing.T) {
	records := numbered(25)
	p := Params{Key: SortByID, Direction: Descending, Page: 3, PageSize: 10}

	res := Build(records, p, mxm.DefaultRatings)
	assert.Equal(t, 25, res.Page.Total)
	assert.Equal(t, 3, res.Page.TotalPages)
	require.Len(t, res.Page.Items, 5)
	assert.Equal(t, "id-04", res.Page.Items[0].ID)
	assert.Equal(t, "id-00", res.Page.Items[4].ID)
	assert.Equal(t, []Bucket{
		{mxm.RatingGood, 25},
		{mxm.RatingNeutral, 0},
		{mxm.RatingBad, 0},
		{mxm.RatingDissatisfied, 0},
	}, res.Ratings)

	assert.Equal(t, res, Build(records, p, mxm.DefaultRatings))
}

func TestBuild_Empty(t *testing.T) {
	res := Build(nil, DefaultParams(), mxm.DefaultRatings)
	assert.NotNil(t, res.Page.Items)
	assert.Empty(t, res.Page.Items)
	assert.Equal(t, 1, res.Page.TotalPages)
	assert.Len(t, res.Ratings, 4)
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-10-01T12:00:00-03:00":  time.Date(2024, 10, 1, 15, 0, 0, 0, time.UTC),
		"2024-10-01T12:00:00.500Z":   time.Date(2024, 10, 1, 12, 0, 0, 500000000, time.UTC),
		"2024-10-01T12:00:00":        time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		"2024-10-01 12:00:00":        time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		"2024-10-01":                 time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		"  2024-10-01T12:00:00Z   ":  time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := ParseTimestamp(in)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), "%s: %v", in, got)
	}

	for _, in := range []string{"", "ontem", "01/10/2024"} {
		_, ok := ParseTimestamp(in)
		assert.False(t, ok, in)
	}
}

func TestFilterSinceAndDailyCounts(t *testing.T) {
	records := []mxm.Feedback{
		{ID: "a", Timestamp: "2024-10-01T23:30:00-03:00"}, // 02:30Z on the 2nd
		{ID: "b", Timestamp: "2024-10-02T10:00:00Z"},
		{ID: "c", Timestamp: "2024-09-20T10:00:00Z"},
		{ID: "d", Timestamp: "sem data"},
	}

	assert.Equal(t, []DayCount{
		{"2024-09-20", 1},
		{"2024-10-02", 2},
	}, DailyCounts(records))

	since := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"a", "b"}, ids(FilterSince(records, since)))
	assert.Len(t, FilterSince(records, time.Time{}), 4)
}

func TestMergeDaily(t *testing.T) {
	a := []DayCount{{"2024-10-01", 1}, {"2024-10-03", 2}}
	b := []DayCount{{"2024-10-02", 4}, {"2024-10-03", 1}}
	assert.Equal(t, []DayCount{
		{"2024-10-01", 1},
		{"2024-10-02", 4},
		{"2024-10-03", 3},
	}, MergeDaily(a, b))
	assert.Empty(t, MergeDaily())
}
