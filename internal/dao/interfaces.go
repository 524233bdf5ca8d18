package dao

import (
	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
)

// FeedbackRepository 反馈归档数据访问接口（只读）
type FeedbackRepository interface {
	GetFeedbacks(collection string, limit, offset int) ([]*mxm.FeedbackRow, error)
	CountFeedbacks(collection string) (int64, error)
	GetCollections() ([]string, error)
}

// Repository 统一的数据访问接口
type Repository interface {
	FeedbackRepository
}
