package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
	"github.com/Daneel-Li/feedback-dash/internal/source"
)

// SourceManager 管理所有集合的数据源
type SourceManager struct {
	sources    map[string]source.Source
	order      []string
	retryDelay time.Duration
	mu         sync.RWMutex
}

// NewSourceManager 创建新的数据源管理器
func NewSourceManager() *SourceManager {
	return &SourceManager{
		sources:    make(map[string]source.Source),
		retryDelay: 5 * time.Second,
	}
}

// Register 注册集合的数据源
func (sm *SourceManager) Register(collection string, src source.Source) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sources[collection]; exists {
		return fmt.Errorf("source %s already registered", collection)
	}
	sm.sources[collection] = src
	sm.order = append(sm.order, collection)
	slog.Info("Source registered", "collection", collection)
	return nil
}

// Get 获取集合的数据源
func (sm *SourceManager) Get(collection string) (source.Source, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	src, exists := sm.sources[collection]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return src, nil
}

// List 按注册顺序列出集合
func (sm *SourceManager) List() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]string(nil), sm.order...)
}

// StartAll watches every registered source until ctx is done. A watch that fails
// is restarted after retryDelay.
func (sm *SourceManager) StartAll(ctx context.Context, onSnapshot func(collection string, records []mxm.Feedback)) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, collection := range sm.List() {
		src, err := sm.Get(collection)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(collection string, src source.Source) {
			defer wg.Done()
			sm.watch(ctx, collection, src, onSnapshot)
		}(collection, src)
		slog.Info("Source started", "collection", collection)
	}
	return &wg
}

func (sm *SourceManager) watch(ctx context.Context, collection string, src source.Source, onSnapshot func(string, []mxm.Feedback)) {
	for {
		err := src.Watch(ctx, func(records []mxm.Feedback) {
			onSnapshot(collection, records)
		})
		if ctx.Err() != nil {
			return
		}
		slog.Error("watch source failed, retrying", "collection", collection, "error", err, "delay", sm.retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sm.retryDelay):
		}
	}
}
