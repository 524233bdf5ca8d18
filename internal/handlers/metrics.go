package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Daneel-Li/feedback-dash/internal/services"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsBuilder struct {
	summaryVec *prometheus.SummaryVec
	counterVec *prometheus.CounterVec
	recordsVec *prometheus.GaugeVec
}

func NewMetricsBuilder(reg prometheus.Registerer) *MetricsBuilder {
	factory := promauto.With(reg)
	summaryVec := factory.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.9:  0.01,
				0.95: 0.005,
				0.99: 0.001,
			},
		},
		[]string{"method", "path", "status_code"},
	)

	counterVec := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	recordsVec := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedback_collection_records",
			Help: "Number of records in the latest snapshot of a collection",
		},
		[]string{"collection"},
	)

	return &MetricsBuilder{
		summaryVec: summaryVec,
		counterVec: counterVec,
		recordsVec: recordsVec,
	}
}

// Build 请求耗时和次数统计中间件
func (b *MetricsBuilder) Build() Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// 处理请求
			h(rec, r)

			// 用路由模板作为path，避免集合名和id撑爆标签
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			statusCode := strconv.Itoa(rec.status)

			b.summaryVec.WithLabelValues(r.Method, path, statusCode).Observe(time.Since(start).Seconds())
			b.counterVec.WithLabelValues(r.Method, path, statusCode).Inc()
		}
	}
}

// CollectionListener keeps the per-collection record gauge current.
func (b *MetricsBuilder) CollectionListener(collections func() []services.CollectionInfo) services.SnapshotListener {
	return func(collection string) {
		for _, info := range collections() {
			if info.Name == collection {
				b.recordsVec.WithLabelValues(collection).Set(float64(info.Count))
				return
			}
		}
	}
}
