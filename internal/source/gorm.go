package source

import (
	"context"
	"fmt"
	"time"

	"github.com/Daneel-Li/feedback-dash/internal/dao"
	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
)

const gormBatchSize = 500

// GormSource polls archived rows of one collection.
type GormSource struct {
	repo       dao.FeedbackRepository
	collection string
	interval   time.Duration
}

func NewGormSource(repo dao.FeedbackRepository, collection string, interval time.Duration) *GormSource {
	return &GormSource{repo: repo, collection: collection, interval: interval}
}

func (s *GormSource) Fetch(ctx context.Context) ([]mxm.Feedback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total, err := s.repo.CountFeedbacks(s.collection)
	if err != nil {
		return nil, fmt.Errorf("count %s in mysql failed: %w", s.collection, err)
	}
	snapshot := make(map[string]mxm.RawFeedback, total)
	for offset := 0; int64(offset) < total; offset += gormBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := s.repo.GetFeedbacks(s.collection, gormBatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("load %s from mysql failed: %w", s.collection, err)
		}
		for _, row := range rows {
			if row == nil {
				continue
			}
			snapshot[row.RecordKey] = row.ToRaw()
		}
		if len(rows) < gormBatchSize {
			break
		}
	}
	return mxm.FromSnapshot(snapshot), nil
}

func (s *GormSource) Watch(ctx context.Context, fn func([]mxm.Feedback)) error {
	return poll(ctx, "mysql:"+s.collection, s.interval, s.Fetch, fn)
}
