package services

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Daneel-Li/feedback-dash/internal/view"
)

// ParamStore 保存每个终端在每个集合上的视图参数（排序、分页）
type ParamStore struct {
	mu       sync.RWMutex
	Items    map[string]map[string]view.Params // terminal -> collection -> params
	Seen     map[string]time.Time              // terminal -> last activity
	filepath string
	updated  bool // Whether updated
	now      func() time.Time
}

// paramFile is the on-disk form of the store.
type paramFile struct {
	Items map[string]map[string]view.Params
	Seen  map[string]time.Time
}

// NewParamStore loads the store from filepath. An empty filepath keeps it in memory only.
func NewParamStore(filepath string) *ParamStore {
	s := &ParamStore{
		Items:    make(map[string]map[string]view.Params),
		Seen:     make(map[string]time.Time),
		filepath: filepath,
		now:      time.Now,
	}
	if filepath != "" {
		if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Info("Failed to read param file, starting empty", "filepath", filepath, "error", err)
		}
	}
	return s
}

func (s *ParamStore) Get(terminal, collection string) (view.Params, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.Items[terminal][collection]
	return p, ok
}

func (s *ParamStore) Set(terminal, collection string, p view.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.Items[terminal]
	if !ok {
		sub = make(map[string]view.Params)
		s.Items[terminal] = sub
	}
	sub[collection] = p
	s.Seen[terminal] = s.now()
	s.updated = true
}

// Touch 刷新终端的最近活动时间
func (s *ParamStore) Touch(terminal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Items[terminal]; ok {
		s.Seen[terminal] = s.now()
		s.updated = true
	}
}

// Expire drops terminals idle for longer than ttl, except those in live.
// It returns how many were dropped.
func (s *ParamStore) Expire(ttl time.Duration, live map[string]bool) int {
	if ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	n := 0
	for terminal := range s.Items {
		if live[terminal] || s.Seen[terminal].After(cutoff) {
			continue
		}
		delete(s.Items, terminal)
		delete(s.Seen, terminal)
		n++
	}
	if n > 0 {
		s.updated = true
	}
	return n
}

// Delete 删除一个终端的全部参数
func (s *ParamStore) Delete(terminal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Items[terminal]; ok {
		delete(s.Items, terminal)
		delete(s.Seen, terminal)
		s.updated = true
	}
}

func (s *ParamStore) Has(terminal string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.Items[terminal]
	return ok
}

// Run saves the store every interval while it has changes, and once more when ctx is done.
func (s *ParamStore) Run(ctx context.Context, interval time.Duration) {
	if s.filepath == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Save(); err != nil {
				slog.Error("Param store serialization failed", "error", err)
			}
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				slog.Error("Param store serialization failed", "error", err)
			}
			return
		}
	}
}

func (s *ParamStore) load() error {
	file, err := os.Open(s.filepath)
	if err != nil {
		return err
	}
	defer file.Close()

	var data paramFile
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("decode %s: %w", s.filepath, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if data.Items != nil {
		s.Items = data.Items
	}
	if data.Seen != nil {
		s.Seen = data.Seen
	}
	// 没有活动时间的终端从加载时开始计时
	for terminal := range s.Items {
		if _, ok := s.Seen[terminal]; !ok {
			s.Seen[terminal] = s.now()
		}
	}
	return nil
}

// Save writes the store to its file when something changed since the last save.
func (s *ParamStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filepath == "" || !s.updated {
		return nil
	}
	slog.Debug("Save params to file", "filepath", s.filepath)

	tmp := s.filepath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(paramFile{Items: s.Items, Seen: s.Seen}); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.filepath); err != nil {
		return err
	}
	s.updated = false
	return nil
}
