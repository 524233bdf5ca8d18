package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Daneel-Li/feedback-dash/internal/config"
	"github.com/Daneel-Li/feedback-dash/internal/dao"
	"github.com/Daneel-Li/feedback-dash/internal/handlers"
	"github.com/Daneel-Li/feedback-dash/internal/services"
	"github.com/Daneel-Li/feedback-dash/internal/source"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mux "github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupLogging(logLevel string) {
	switch strings.ToLower(logLevel) {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	}
}

// initDatabase 初始化数据库连接
func initDatabase(ctx context.Context, cfg *config.Config) *gorm.DB {
	db, err := gorm.Open(mysql.Open(cfg.Mysql.DSN()), &gorm.Config{
		PrepareStmt: true, // 开启预编译提升性能
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		log.Fatal("Could not connect to the database", err)
	}

	// 获取底层*sql.DB对象并配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Get underlying sql.DB failed", err)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	// 连接健康检查
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sqlDB.PingContext(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("Database connection health check failed", "error", err)
				}
			}
		}
	}()

	return db
}

// checkArchive 提示配置了但库里还没有数据的集合
func checkArchive(repo dao.Repository, cfg *config.Config) {
	names, err := repo.GetCollections()
	if err != nil {
		slog.Warn("list archived collections failed", "error", err)
		return
	}
	archived := make(map[string]bool, len(names))
	for _, n := range names {
		archived[n] = true
	}
	for _, s := range cfg.Sources {
		if s.Kind == config.KindMysql && !archived[s.Collection] {
			slog.Warn("collection has no archived rows yet", "collection", s.Collection)
		}
	}
}

// initSources 按配置创建每个集合的数据源
func initSources(cfg *config.Config, repo dao.Repository, mqClient mqtt.Client) (*services.SourceManager, error) {
	sm := services.NewSourceManager()
	for _, sc := range cfg.Sources {
		var src source.Source
		switch sc.Kind {
		case config.KindFirebase:
			src = source.NewFirebaseSource(sc.DatabaseURL, sc.Path,
				source.WithStream(sc.Stream),
				source.WithPollInterval(sc.PollInterval()),
				source.WithReconnectLimit(sc.ReconnectQPS),
				source.WithHTTPClient(&http.Client{Transport: http.DefaultTransport}),
			)
		case config.KindMqtt:
			src = source.NewMqttSource(mqClient, sc.Topic)
		case config.KindMysql:
			src = source.NewGormSource(repo, sc.Collection, sc.PollInterval())
		case config.KindFile:
			src = source.NewFileSource(sc.File, sc.PollInterval())
		default:
			return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
		}
		if err := sm.Register(sc.Collection, src); err != nil {
			return nil, err
		}
	}
	return sm, nil
}

// setupRoutes 设置路由
func setupRoutes(dashboard *services.DashboardService, ws *services.WSManager, metrics *handlers.MetricsBuilder) *mux.Router {
	r := mux.NewRouter()
	h := handlers.NewSimpleHandler(dashboard, ws)
	midWares := []handlers.Middleware{
		handlers.AccessLog,
		handlers.Recover,
		handlers.CORS,
		metrics.Build(),
	}
	h.Routes(r, midWares...)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// startServer 启动HTTP服务器，ctx结束时优雅退出
func startServer(ctx context.Context, router *mux.Router, cfg *config.Config) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Tls.CertPath != "" && cfg.Tls.KeyPath != "" {
			slog.Info("Starting HTTPS server: " + server.Addr + "...")
			errCh <- server.ListenAndServeTLS(cfg.Tls.CertPath, cfg.Tls.KeyPath)
			return
		}
		slog.Info("Starting HTTP server: " + server.Addr + "...")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	configPath := flag.String("config", "./config.json", "path of the json config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// 设置日志级别
	setupLogging(cfg.Loglevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo dao.Repository
	if cfg.NeedsMysql() {
		repo = dao.NewMysqlRepository(initDatabase(ctx, cfg))
		checkArchive(repo, cfg)
	}

	var mqClient mqtt.Client
	if cfg.NeedsMqtt() {
		mqClient, err = source.NewMqttClient(cfg.Mqtt)
		if err != nil {
			log.Fatal(err)
		}
		defer mqClient.Disconnect(250)
	}

	sources, err := initSources(cfg, repo, mqClient)
	if err != nil {
		log.Fatal(err)
	}

	dashboard := services.NewDashboardService(sources, cfg.Ratings, cfg.PageSize)
	params := services.NewParamStore(cfg.ParamCachePath)
	go params.Run(ctx, 10*time.Second)

	ws := services.NewWsManager(dashboard, params, cfg.WsCleanupInterval())
	ws.SetParamTTL(cfg.ParamTTL())
	dashboard.AddListener(ws.OnSnapshot)
	metrics := handlers.NewMetricsBuilder(prometheus.DefaultRegisterer)
	dashboard.AddListener(metrics.CollectionListener(dashboard.Collections))
	ws.Start(ctx)
	watchers := dashboard.Start(ctx)

	if err := startServer(ctx, setupRoutes(dashboard, ws, metrics), cfg); err != nil {
		slog.Error("Server stopped: " + err.Error())
	}
	stop()
	watchers.Wait()
	if err := params.Save(); err != nil {
		slog.Error("Save params failed", "error", err)
	}
	slog.Info("Server exited")
}
