// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/notion-exporter/internal/auth"
	"github.com/yourusername/notion-exporter/internal/config"
	"github.com/yourusername/notion-exporter/internal/export"
	"github.com/yourusername/notion-exporter/internal/jobs"
	"github.com/yourusername/notion-exporter/internal/logging"
	"github.com/yourusername/notion-exporter/internal/notion"
	"github.com/yourusername/notion-exporter/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg)
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	exporter := newExporter(cfg, logger)

	hub := stream.NewHub(logger, allowedOrigins(cfg))
	hub.Start()
	defer hub.Stop()

	var manager *jobs.Manager
	if cfg.AsyncEnabled() {
		manager, err = setupJobs(cfg, exporter, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to set up job queue")
		}
		manager.SetNotifier(hub)
		manager.StartWorkers()
		defer manager.Shutdown(context.Background())
	} else {
		logger.Info("async jobs are disabled")
	}

	// ルーティングの設定
	setupRoutes(router, cfg, logger, exporter, manager, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr": srv.Addr,
			"mode": cfg.GinMode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}

// newExporter は設定から Notion エクスポートクライアントを作成します。
func newExporter(cfg *config.Config, logger logrus.FieldLogger) *notion.Exporter {
	return notion.NewExporter(
		cfg.NotionToken,
		notion.WithBaseURL(cfg.NotionAPIBaseURL),
		notion.WithPollInterval(cfg.PollInterval),
		notion.WithHTTPClient(&http.Client{Timeout: cfg.NotionHTTPTimeout}),
		notion.WithLogger(logger.WithField("component", "notion")),
	)
}

func allowedOrigins(cfg *config.Config) []string {
	var origins []string
	for _, origin := range strings.Split(cfg.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "notion-exporter-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
// manager が nil の場合、ジョブ系のルートは登録せず、エクスポートは常に同期で処理します。
func setupRoutes(router *gin.Engine, cfg *config.Config, logger logrus.FieldLogger, svc export.Service, manager *jobs.Manager, hub *stream.Hub) {
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg, logger)

	opts := export.HandlerOptions{}
	if manager != nil {
		opts.Scheduler = &exportJobScheduler{manager: manager}
	}

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			exports := protected.Group("/exports", authManager.Throttle())
			{
				exports.POST("/task", export.TaskHandler(svc))
				exports.POST("/url", export.ZipURLHandler(svc))
				exports.POST("/csv", export.CSVHandler(svc, opts))
				exports.POST("/markdown", export.MarkdownHandler(svc, opts))
				exports.POST("/file", export.FileHandler(svc, opts))
			}

			if manager != nil {
				jobRoutes := protected.Group("/jobs")
				{
					jobRoutes.GET("/ws", hub.Handler())
					jobRoutes.GET("/:id", jobStatusHandler(manager))
					jobRoutes.GET("/:id/download", jobDownloadHandler(manager))
				}
			}
		}
	}
}
