package source

import (
	"context"
	"fmt"
	"os"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	"golang.org/x/exp/slices"
)

// StaticSource serves a fixed snapshot. Used for fixtures.
type StaticSource struct {
	records []mxm.Feedback
}

func NewStaticSource(records []mxm.Feedback) *StaticSource {
	return &StaticSource{records: slices.Clone(records)}
}

func (s *StaticSource) Fetch(ctx context.Context) ([]mxm.Feedback, error) {
	return slices.Clone(s.records), nil
}

func (s *StaticSource) Watch(ctx context.Context, fn func([]mxm.Feedback)) error {
	fn(slices.Clone(s.records))
	<-ctx.Done()
	return ctx.Err()
}

// FileSource reads a json export (id -> record) from disk, re-reading it on every poll.
type FileSource struct {
	path     string
	interval time.Duration
}

func NewFileSource(path string, interval time.Duration) *FileSource {
	return &FileSource{path: path, interval: interval}
}

func (s *FileSource) Fetch(ctx context.Context) ([]mxm.Feedback, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file failed: %w", err)
	}
	records, err := mxm.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot file %s failed: %w", s.path, err)
	}
	return records, nil
}

func (s *FileSource) Watch(ctx context.Context, fn func([]mxm.Feedback)) error {
	return poll(ctx, "file:"+s.path, s.interval, s.Fetch, fn)
}
