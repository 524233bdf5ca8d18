package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
	"github.com/Daneel-Li/feedback-dash/internal/services"
	"github.com/Daneel-Li/feedback-dash/internal/view"
	"github.com/Daneel-Li/feedback-dash/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// DashboardService 处理器依赖的服务接口
type DashboardService interface {
	Collections() []services.CollectionInfo
	Ratings() []mxm.Rating
	DefaultParams() view.Params
	View(collection string, p view.Params) (view.Result, error)
	Feedback(collection, id string) (mxm.Feedback, error)
	RatingCounts(collection string, rng time.Duration) ([]view.Bucket, error)
	Daily(collection string, rng time.Duration) ([]view.DayCount, error)
	Summary(rng time.Duration) services.Summary
	Refresh(ctx context.Context, collection string) error
}

type WSRegistrar interface {
	Register(conn *websocket.Conn)
}

// SimpleHandler 简化的处理器
type SimpleHandler struct {
	dashboard DashboardService
	wsManager WSRegistrar
}

// NewSimpleHandler 创建简化的处理器
func NewSimpleHandler(dashboard DashboardService, wsManager WSRegistrar) *SimpleHandler {
	return &SimpleHandler{dashboard: dashboard, wsManager: wsManager}
}

// errBadRequest marks errors caused by the request itself.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// handleError 统一错误处理
func (h *SimpleHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCollectionNotFound), errors.Is(err, services.ErrFeedbackNotFound):
		slog.Debug("Handler not found", "error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errBadRequest):
		slog.Debug("Handler bad request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Handler error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// GetCollections 列出所有集合
func (h *SimpleHandler) GetCollections(w http.ResponseWriter, r *http.Request) {
	utils.WriteHttpResponse(w, http.StatusOK, h.dashboard.Collections())
}

// GetCategories 评分类别，按图表坐标轴顺序
func (h *SimpleHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	utils.WriteHttpResponse(w, http.StatusOK, h.dashboard.Ratings())
}

// parseParams reads sort/order/page/page_size on top of the default view params.
func (h *SimpleHandler) parseParams(r *http.Request) (view.Params, error) {
	query := r.URL.Query()
	p := h.dashboard.DefaultParams()

	if s := query.Get("sort"); s != "" {
		key, err := view.ParseSortKey(s)
		if err != nil {
			return p, badRequest("%v", err)
		}
		p.Key = key
		// a new column starts ascending unless order says otherwise
		if query.Get("order") == "" {
			p.Direction = view.Ascending
		}
	}
	if s := query.Get("order"); s != "" {
		dir, err := view.ParseDirection(s)
		if err != nil {
			return p, badRequest("%v", err)
		}
		p.Direction = dir
	}
	pageSize, err := utils.ParseIntWithDefault(query.Get("page_size"), p.PageSize)
	if err != nil {
		return p, badRequest("invalid page_size: %v", err)
	}
	p.SetPageSize(pageSize)
	page, err := utils.ParseIntWithDefault(query.Get("page"), p.Page)
	if err != nil {
		return p, badRequest("invalid page: %v", err)
	}
	p.SetPage(page)
	return p, nil
}

func parseRange(r *http.Request) (time.Duration, error) {
	rng, err := utils.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		return 0, badRequest("%v", err)
	}
	return rng, nil
}

// GetFeedbacks 获取排序分页后的反馈列表及评分统计
func (h *SimpleHandler) GetFeedbacks(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	p, err := h.parseParams(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	res, err := h.dashboard.View(collection, p)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, res)
}

// GetFeedback 获取单条反馈
func (h *SimpleHandler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fb, err := h.dashboard.Feedback(vars["collection"], vars["id"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, fb)
}

// GetRatings 按评分统计
func (h *SimpleHandler) GetRatings(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	buckets, err := h.dashboard.RatingCounts(mux.Vars(r)["collection"], rng)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, buckets)
}

// GetDaily 按天统计
func (h *SimpleHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	days, err := h.dashboard.Daily(mux.Vars(r)["collection"], rng)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, days)
}

// Refresh 立即重新拉取集合
func (h *SimpleHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.dashboard.Refresh(ctx, mux.Vars(r)["collection"]); err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]string{
		"message": "Collection refreshed",
	})
}

// GetSummary 首页汇总
func (h *SimpleHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, h.dashboard.Summary(rng))
}

// UpgradeWS WebSocket升级处理
func (h *SimpleHandler) UpgradeWS(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // 根据安全需求调整
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	slog.Debug("新建连接", "connptr", fmt.Sprintf("%p", conn))

	// 首帧注册
	h.wsManager.Register(conn)
}

// Routes 注册所有路由
func (h *SimpleHandler) Routes(r *mux.Router, middlewares ...Middleware) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/collections", WithMidWare(h.GetCollections, middlewares...)).Methods(http.MethodGet)
	api.HandleFunc("/collections/{collection}/feedbacks", WithMidWare(h.GetFeedbacks, middlewares...)).Methods(http.MethodGet)
	api.HandleFunc("/collections/{collection}/feedbacks/{id}", WithMidWare(h.GetFeedback, middlewares...)).Methods(http.MethodGet)
	api.HandleFunc("/collections/{collection}/ratings", WithMidWare(h.GetRatings, middlewares...)).Methods(http.MethodGet)
	api.HandleFunc("/collections/{collection}/daily", WithMidWare(h.GetDaily, middlewares...)).Methods(http.MethodGet)
	api.HandleFunc("/collections/{collection}/refresh", WithMidWare(h.Refresh, middlewares...)).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/ratings", WithMidWare(h.GetCategories, middlewares...)).Methods(http.MethodGet)
	api.HandleFunc("/summary", WithMidWare(h.GetSummary, middlewares...)).Methods(http.MethodGet)

	r.HandleFunc("/ws", h.UpgradeWS)
}
