package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, n int, watch func(ctx context.Context, fn func([]mxm.Feedback)) error) [][]mxm.Feedback {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []mxm.Feedback, n)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, func(records []mxm.Feedback) {
			select {
			case got <- records:
			default:
			}
		})
	}()

	var out [][]mxm.Feedback
	for len(out) < n {
		select {
		case records := <-got:
			out = append(out, records)
		case err := <-done:
			t.Fatalf("watch returned early: %v", err)
		case <-ctx.Done():
			t.Fatalf("got %d snapshots, want %d", len(out), n)
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	return out
}

func ids(records []mxm.Feedback) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestPoll_DeliversOnlyChanges(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]mxm.Feedback, error) {
		switch calls.Add(1) {
		case 1, 2:
			return []mxm.Feedback{{ID: "a"}}, nil
		case 3:
			return nil, errors.New("temporary")
		default:
			return []mxm.Feedback{{ID: "a"}, {ID: "b"}}, nil
		}
	}

	snapshots := collect(t, 2, func(ctx context.Context, fn func([]mxm.Feedback)) error {
		return poll(ctx, "test", 5*time.Millisecond, fetch, fn)
	})
	assert.Equal(t, []string{"a"}, ids(snapshots[0]))
	assert.Equal(t, []string{"a", "b"}, ids(snapshots[1]))
	assert.GreaterOrEqual(t, calls.Load(), int32(4))
}

func TestStaticSource(t *testing.T) {
	records := []mxm.Feedback{{ID: "x", Rating: mxm.RatingGood}}
	s := NewStaticSource(records)
	records[0].ID = "changed"

	got, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", got[0].ID)

	snapshots := collect(t, 1, s.Watch)
	assert.Equal(t, []string{"x"}, ids(snapshots[0]))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"k2": {"usuario": "ana", "rating": "Bom", "data": "2024-10-01T10:00:00Z"},
		"k1": {"usuario": "rui", "rating": "Ruim", "comentario": "lento", "analysis": null}
	}`), 0o600))

	s := NewFileSource(path, time.Hour)
	records, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"k1", "k2"}, ids(records))
	assert.Equal(t, "lento", records[0].Comment)
	assert.Equal(t, mxm.Placeholder, records[0].Analysis)
	assert.Equal(t, mxm.Placeholder, records[1].Comment)

	snapshots := collect(t, 1, s.Watch)
	assert.Len(t, snapshots[0], 2)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.json"), time.Hour).Fetch(context.Background())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`"not a collection"`), 0o600))
	_, err = s.Fetch(context.Background())
	assert.Error(t, err)
}

// MockRepository 模拟 dao.FeedbackRepository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetFeedbacks(collection string, limit, offset int) ([]*mxm.FeedbackRow, error) {
	args := m.Called(collection, limit, offset)
	rows, _ := args.Get(0).([]*mxm.FeedbackRow)
	return rows, args.Error(1)
}

func (m *MockRepository) CountFeedbacks(collection string) (int64, error) {
	args := m.Called(collection)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) GetCollections() ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

func strPtr(s string) *string { return &s }

func TestGormSource_Fetch(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CountFeedbacks", "ura").Return(int64(3), nil).Once()
	repo.On("GetFeedbacks", "ura", gormBatchSize, 0).Return([]*mxm.FeedbackRow{
		{Collection: "ura", RecordKey: "b", Usuario: strPtr("bia"), Rating: strPtr("Neutro")},
		nil,
		{Collection: "ura", RecordKey: "a", Comentario: strPtr("")},
	}, nil).Once()
	repo.On("CountFeedbacks", "ura").Return(int64(3), nil).Once()
	repo.On("GetFeedbacks", "ura", gormBatchSize, 0).Return(nil, errors.New("db down")).Once()

	s := NewGormSource(repo, "ura", time.Hour)
	records, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(records))
	assert.Equal(t, mxm.Placeholder, records[0].Comment)
	assert.Equal(t, "bia", records[1].User)
	assert.Equal(t, mxm.RatingNeutral, records[1].Rating)

	_, err = s.Fetch(context.Background())
	assert.ErrorContains(t, err, "db down")
	repo.AssertExpectations(t)
}

func TestGormSource_Batches(t *testing.T) {
	first := make([]*mxm.FeedbackRow, gormBatchSize)
	for i := range first {
		first[i] = &mxm.FeedbackRow{Collection: "feedback", RecordKey: fmt.Sprintf("k%04d", i)}
	}
	repo := new(MockRepository)
	repo.On("CountFeedbacks", "feedback").Return(int64(gormBatchSize+1), nil)
	repo.On("GetFeedbacks", "feedback", gormBatchSize, 0).Return(first, nil)
	repo.On("GetFeedbacks", "feedback", gormBatchSize, gormBatchSize).Return([]*mxm.FeedbackRow{
		{Collection: "feedback", RecordKey: "z"},
	}, nil)

	records, err := NewGormSource(repo, "feedback", time.Hour).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, gormBatchSize+1)
	assert.Equal(t, "z", records[gormBatchSize].ID)
	repo.AssertExpectations(t)

	empty := new(MockRepository)
	empty.On("CountFeedbacks", "none").Return(int64(0), nil)
	records, err = NewGormSource(empty, "none", time.Hour).Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	empty.AssertNotCalled(t, "GetFeedbacks", mock.Anything, mock.Anything, mock.Anything)
}

func TestGormSource_CanceledContext(t *testing.T) {
	repo := new(MockRepository)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGormSource(repo, "ura", time.Hour).Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	repo.AssertNotCalled(t, "GetFeedbacks", mock.Anything, mock.Anything, mock.Anything)
}
