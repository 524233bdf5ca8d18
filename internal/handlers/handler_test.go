package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
	"github.com/Daneel-Li/feedback-dash/internal/services"
	"github.com/Daneel-Li/feedback-dash/internal/view"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDashboardService mock dashboard service
type MockDashboardService struct {
	mock.Mock
}

func (m *MockDashboardService) Collections() []services.CollectionInfo {
	args := m.Called()
	return args.Get(0).([]services.CollectionInfo)
}

func (m *MockDashboardService) Ratings() []mxm.Rating {
	args := m.Called()
	return args.Get(0).([]mxm.Rating)
}

func (m *MockDashboardService) DefaultParams() view.Params {
	return view.DefaultParams()
}

func (m *MockDashboardService) View(collection string, p view.Params) (view.Result, error) {
	args := m.Called(collection, p)
	return args.Get(0).(view.Result), args.Error(1)
}

func (m *MockDashboardService) Feedback(collection, id string) (mxm.Feedback, error) {
	args := m.Called(collection, id)
	return args.Get(0).(mxm.Feedback), args.Error(1)
}

func (m *MockDashboardService) RatingCounts(collection string, rng time.Duration) ([]view.Bucket, error) {
	args := m.Called(collection, rng)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]view.Bucket), args.Error(1)
}

func (m *MockDashboardService) Daily(collection string, rng time.Duration) ([]view.DayCount, error) {
	args := m.Called(collection, rng)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]view.DayCount), args.Error(1)
}

func (m *MockDashboardService) Summary(rng time.Duration) services.Summary {
	args := m.Called(rng)
	return args.Get(0).(services.Summary)
}

func (m *MockDashboardService) Refresh(ctx context.Context, collection string) error {
	args := m.Called(ctx, collection)
	return args.Error(0)
}

// MockWSManager mock WebSocket manager
type MockWSManager struct {
	mock.Mock
}

func (m *MockWSManager) Register(conn *websocket.Conn) {
	m.Called(conn)
	conn.Close()
}

func newTestRouter(svc *MockDashboardService, ws *MockWSManager) *mux.Router {
	r := mux.NewRouter()
	NewSimpleHandler(svc, ws).Routes(r, AccessLog, Recover, CORS)
	return r
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetCollections(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("Collections").Return([]services.CollectionInfo{{Name: "feedback", Count: 3, Loaded: true}})

	rec := do(newTestRouter(svc, nil), http.MethodGet, "/api/v1/collections")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var got []services.CollectionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "feedback", got[0].Name)
	assert.Equal(t, 3, got[0].Count)
}

func TestGetCategories(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("Ratings").Return(mxm.DefaultRatings)

	rec := do(newTestRouter(svc, nil), http.MethodGet, "/api/v1/ratings")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["Bom","Neutro","Ruim","Insatisfeito"]`, rec.Body.String())
}

func TestGetFeedbacks_Params(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  view.Params
	}{
		{"defaults", "", view.Params{Key: view.SortByTimestamp, Direction: view.Descending, Page: 1, PageSize: 10}},
		{"sort starts ascending", "?sort=user", view.Params{Key: view.SortByUser, Direction: view.Ascending, Page: 1, PageSize: 10}},
		{"explicit order", "?sort=rating&order=desc&page=2", view.Params{Key: view.SortByRating, Direction: view.Descending, Page: 2, PageSize: 10}},
		{"page size keeps explicit page", "?page_size=25&page=3", view.Params{Key: view.SortByTimestamp, Direction: view.Descending, Page: 3, PageSize: 25}},
		{"out of range page", "?page=99", view.Params{Key: view.SortByTimestamp, Direction: view.Descending, Page: 99, PageSize: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockDashboardService)
			svc.On("View", "feedback", tt.want).Return(view.Result{Page: view.Page{Items: []mxm.Feedback{}, Page: tt.want.Page}}, nil)

			rec := do(newTestRouter(svc, nil), http.MethodGet, "/api/v1/collections/feedback/feedbacks"+tt.query)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestGetFeedbacks_BadRequest(t *testing.T) {
	for _, q := range []string{"?sort=color", "?order=up", "?page=two", "?page_size=x"} {
		t.Run(q, func(t *testing.T) {
			svc := new(MockDashboardService)
			rec := do(newTestRouter(svc, nil), http.MethodGet, "/api/v1/collections/feedback/feedbacks"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			svc.AssertNotCalled(t, "View", mock.Anything, mock.Anything)
		})
	}
}

func TestGetFeedbacks_Errors(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("View", "nope", mock.Anything).Return(view.Result{}, fmt.Errorf("%w: nope", services.ErrCollectionNotFound))
	svc.On("View", "broken", mock.Anything).Return(view.Result{}, errors.New("boom"))
	r := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/collections/nope/feedbacks").Code)
	rec := do(r, http.MethodGet, "/api/v1/collections/broken/feedbacks")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestGetFeedback(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("Feedback", "ura", "k1").Return(mxm.Feedback{ID: "k1", User: "ana", Comment: "-"}, nil)
	svc.On("Feedback", "ura", "k2").Return(mxm.Feedback{}, services.ErrFeedbackNotFound)
	r := newTestRouter(svc, nil)

	rec := do(r, http.MethodGet, "/api/v1/collections/ura/feedbacks/k1")
	assert.Equal(t, http.StatusOK, rec.Code)
	var fb mxm.Feedback
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fb))
	assert.Equal(t, "ana", fb.User)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/collections/ura/feedbacks/k2").Code)
}

func TestGetRatingsAndDaily(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("RatingCounts", "feedback", 7*24*time.Hour).Return([]view.Bucket{{Rating: mxm.RatingGood, Count: 2}}, nil)
	svc.On("Daily", "feedback", time.Duration(0)).Return([]view.DayCount{{Day: "2024-10-01", Count: 2}}, nil)
	r := newTestRouter(svc, nil)

	rec := do(r, http.MethodGet, "/api/v1/collections/feedback/ratings?range=7d")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"rating":"Bom","count":2}]`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/v1/collections/feedback/daily")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"day":"2024-10-01","count":2}]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/collections/feedback/ratings?range=soon").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/collections/feedback/daily?range=-1d").Code)
}

func TestRefresh(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("Refresh", mock.Anything, "feedback").Return(nil)
	svc.On("Refresh", mock.Anything, "nope").Return(services.ErrCollectionNotFound)
	svc.On("Refresh", mock.Anything, "ura").Return(errors.New("firebase unreachable"))
	r := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/collections/feedback/refresh").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/v1/collections/nope/refresh").Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/api/v1/collections/ura/refresh").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodGet, "/api/v1/collections/feedback/refresh").Code)

	rec := do(r, http.MethodOptions, "/api/v1/collections/feedback/refresh")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestGetSummary(t *testing.T) {
	svc := new(MockDashboardService)
	svc.On("Summary", 30*24*time.Hour).Return(services.Summary{Total: 7, Ratings: []view.Bucket{}, Daily: []view.DayCount{}})
	r := newTestRouter(svc, nil)

	rec := do(r, http.MethodGet, "/api/v1/summary?range=30d")
	assert.Equal(t, http.StatusOK, rec.Code)
	var sum services.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 7, sum.Total)
}

func TestRecover(t *testing.T) {
	h := WithMidWare(func(w http.ResponseWriter, r *http.Request) { panic("oops") }, AccessLog, Recover)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpgradeWS(t *testing.T) {
	registered := make(chan struct{}, 1)
	ws := new(MockWSManager)
	ws.On("Register", mock.Anything).Run(func(mock.Arguments) { registered <- struct{}{} }).Return()
	srv := httptest.NewServer(newTestRouter(new(MockDashboardService), ws))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("connection was not registered")
	}
}
