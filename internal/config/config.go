// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// Notion 設定
	NotionToken       string        // token_v2 Cookie の値
	NotionAPIBaseURL  string        // エクスポート API のベースURL
	PollInterval      time.Duration // タスク状態の問い合わせ間隔
	NotionHTTPTimeout time.Duration // 1リクエストあたりのタイムアウト（0 は無制限）

	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ジョブ/キュー設定
	AsyncJobs        bool   // 非同期ジョブ（Asynq）を有効にするか
	QueueRedisURL    string // Asynq用Redis接続URL
	QueueConcurrency int    // ワーカーの同時実行数
	JobExpireMinutes int    // ジョブ記録の有効期限（分）

	// レート制限
	RateLimitRPS   float64 // エクスポートAPIの1秒あたり許可数（クライアントごと）
	RateLimitBurst int     // バースト許容数

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// Notion 設定
		NotionToken:       getEnv("NOTION_TOKEN", ""),
		NotionAPIBaseURL:  getEnv("NOTION_API_BASE_URL", "https://www.notion.so/api/v3/"),
		PollInterval:      getEnvAsMillis("EXPORT_POLL_INTERVAL_MS", 50*time.Millisecond),
		NotionHTTPTimeout: time.Duration(getEnvAsInt("NOTION_HTTP_TIMEOUT_SECONDS", 0)) * time.Second,

		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ジョブ/キュー設定
		AsyncJobs:        getEnvAsBool("ASYNC_JOBS_ENABLED", true),
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueConcurrency: getEnvAsInt("QUEUE_CONCURRENCY", 4),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),

		// レート制限
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// トークンがなければエクスポートは一切できない
	if strings.TrimSpace(c.NotionToken) == "" {
		return fmt.Errorf("NOTION_TOKEN is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("EXPORT_POLL_INTERVAL_MS must be positive")
	}

	// ローカル開発では認証設定は任意
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}
	if c.AsyncJobs && strings.TrimSpace(c.QueueRedisURL) == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required when async jobs are enabled")
	}

	return nil
}

// AsyncEnabled は非同期ジョブ（Asynq）を使うかどうかを返します。
func (c *Config) AsyncEnabled() bool {
	return c.AsyncJobs && strings.TrimSpace(c.QueueRedisURL) != ""
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します。
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsMillis はミリ秒指定の環境変数を time.Duration として取得します。
func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(value) * time.Millisecond
}
