package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
	"github.com/Daneel-Li/feedback-dash/internal/view"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFeedbackNotFound   = errors.New("feedback not found")
)

// SnapshotListener is called after a collection received a new snapshot.
type SnapshotListener func(collection string)

type CollectionInfo struct {
	Name      string     `json:"name"`
	Count     int        `json:"count"`
	Loaded    bool       `json:"loaded"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type CollectionStats struct {
	Name    string        `json:"name"`
	Total   int           `json:"total"`
	Ratings []view.Bucket `json:"ratings"`
}

// Summary 首页汇总，所有集合合并统计
type Summary struct {
	Since       *time.Time        `json:"since,omitempty"`
	Total       int               `json:"total"`
	Ratings     []view.Bucket     `json:"ratings"`
	Daily       []view.DayCount   `json:"daily"`
	Collections []CollectionStats `json:"collections"`
}

const initialLoadTimeout = 10 * time.Second

// DashboardService keeps the latest snapshot of every collection and builds views from it.
type DashboardService struct {
	sources  *SourceManager
	ratings  []mxm.Rating
	pageSize int
	now      func() time.Time

	mu        sync.RWMutex
	snapshots map[string][]mxm.Feedback
	updated   map[string]time.Time
	listeners []SnapshotListener
}

func NewDashboardService(sources *SourceManager, ratings []mxm.Rating, pageSize int) *DashboardService {
	if len(ratings) == 0 {
		ratings = mxm.DefaultRatings
	}
	if pageSize < 1 {
		pageSize = view.DefaultPageSize
	}
	return &DashboardService{
		sources:   sources,
		ratings:   append([]mxm.Rating(nil), ratings...),
		pageSize:  pageSize,
		now:       time.Now,
		snapshots: make(map[string][]mxm.Feedback),
		updated:   make(map[string]time.Time),
	}
}

// Start loads every collection once and then follows the sources until ctx is done.
func (s *DashboardService) Start(ctx context.Context) *sync.WaitGroup {
	for _, collection := range s.sources.List() {
		loadCtx, cancel := context.WithTimeout(ctx, initialLoadTimeout)
		if err := s.Refresh(loadCtx, collection); err != nil {
			slog.Warn("initial load failed", "collection", collection, "error", err)
		}
		cancel()
	}
	return s.sources.StartAll(ctx, s.apply)
}

// AddListener 注册快照更新回调
func (s *DashboardService) AddListener(fn SnapshotListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *DashboardService) apply(collection string, records []mxm.Feedback) {
	if records == nil {
		records = []mxm.Feedback{}
	}
	s.mu.Lock()
	s.snapshots[collection] = records
	s.updated[collection] = s.now()
	listeners := append([]SnapshotListener(nil), s.listeners...)
	s.mu.Unlock()

	slog.Debug("snapshot updated", "collection", collection, "count", len(records))
	for _, fn := range listeners {
		fn(collection)
	}
}

// Refresh 立即从数据源重新读取一个集合
func (s *DashboardService) Refresh(ctx context.Context, collection string) error {
	src, err := s.sources.Get(collection)
	if err != nil {
		return err
	}
	records, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh %s failed: %w", collection, err)
	}
	s.apply(collection, records)
	return nil
}

// records returns the stored snapshot. A registered collection that has not loaded yet is empty.
func (s *DashboardService) records(collection string) ([]mxm.Feedback, error) {
	if _, err := s.sources.Get(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if records, ok := s.snapshots[collection]; ok {
		return records, nil
	}
	return []mxm.Feedback{}, nil
}

func (s *DashboardService) Ratings() []mxm.Rating {
	return append([]mxm.Rating(nil), s.ratings...)
}

// DefaultParams 默认视图参数，页大小取自配置
func (s *DashboardService) DefaultParams() view.Params {
	p := view.DefaultParams()
	p.PageSize = s.pageSize
	return p
}

func (s *DashboardService) Collections() []CollectionInfo {
	names := s.sources.List()
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		info := CollectionInfo{Name: name}
		if records, ok := s.snapshots[name]; ok {
			updated := s.updated[name]
			info.Count = len(records)
			info.Loaded = true
			info.UpdatedAt = &updated
		}
		infos = append(infos, info)
	}
	return infos
}

// View 对集合排序、分页并按评分统计
func (s *DashboardService) View(collection string, p view.Params) (view.Result, error) {
	records, err := s.records(collection)
	if err != nil {
		return view.Result{}, err
	}
	if p.PageSize < 1 {
		p.PageSize = s.pageSize
	}
	return view.Build(records, p.Normalized(), s.ratings), nil
}

func (s *DashboardService) Feedback(collection, id string) (mxm.Feedback, error) {
	records, err := s.records(collection)
	if err != nil {
		return mxm.Feedback{}, err
	}
	fb, ok := view.FindByID(records, id)
	if !ok {
		return mxm.Feedback{}, fmt.Errorf("%w: %s/%s", ErrFeedbackNotFound, collection, id)
	}
	return fb, nil
}

// since converts a look-back range into a cut-off; zero means everything.
func (s *DashboardService) since(rng time.Duration) time.Time {
	if rng <= 0 {
		return time.Time{}
	}
	return s.now().Add(-rng)
}

func (s *DashboardService) RatingCounts(collection string, rng time.Duration) ([]view.Bucket, error) {
	records, err := s.records(collection)
	if err != nil {
		return nil, err
	}
	return view.AggregateByRating(view.FilterSince(records, s.since(rng)), s.ratings), nil
}

func (s *DashboardService) Daily(collection string, rng time.Duration) ([]view.DayCount, error) {
	records, err := s.records(collection)
	if err != nil {
		return nil, err
	}
	return view.DailyCounts(view.FilterSince(records, s.since(rng))), nil
}

// Summary 汇总所有集合
func (s *DashboardService) Summary(rng time.Duration) Summary {
	since := s.since(rng)
	sum := Summary{
		Ratings:     view.AggregateByRating(nil, s.ratings),
		Daily:       []view.DayCount{},
		Collections: []CollectionStats{},
	}
	if !since.IsZero() {
		sum.Since = &since
	}

	var daily [][]view.DayCount
	for _, name := range s.sources.List() {
		records, err := s.records(name)
		if err != nil {
			continue
		}
		filtered := view.FilterSince(records, since)
		buckets := view.AggregateByRating(filtered, s.ratings)
		for i := range buckets {
			sum.Ratings[i].Count += buckets[i].Count
		}
		sum.Total += len(filtered)
		sum.Collections = append(sum.Collections, CollectionStats{Name: name, Total: len(filtered), Ratings: buckets})
		daily = append(daily, view.DailyCounts(filtered))
	}
	sum.Daily = view.MergeDaily(daily...)
	return sum
}
