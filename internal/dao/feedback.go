package dao

import (
	"fmt"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
)

// GetFeedbacks 获取某个集合的反馈，limit<=0 表示不限
func (d *MysqlRepository) GetFeedbacks(collection string, limit, offset int) ([]*mxm.FeedbackRow, error) {
	var feedbacks []*mxm.FeedbackRow
	query := d.db.Model(mxm.FeedbackRow{}).Where("collection = ?", collection).Order("record_key")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&feedbacks).Error; err != nil {
		return nil, fmt.Errorf("get feedbacks failed: %w", err)
	}
	return feedbacks, nil
}

func (d *MysqlRepository) CountFeedbacks(collection string) (int64, error) {
	var n int64
	if err := d.db.Model(mxm.FeedbackRow{}).Where("collection = ?", collection).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count feedbacks failed: %w", err)
	}
	return n, nil
}

// GetCollections 列出已归档的集合名
func (d *MysqlRepository) GetCollections() ([]string, error) {
	var names []string
	if err := d.db.Model(mxm.FeedbackRow{}).Distinct().Order("collection").Pluck("collection", &names).Error; err != nil {
		return nil, fmt.Errorf("get collections failed: %w", err)
	}
	return names, nil
}
