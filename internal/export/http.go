// Package export は Notion エクスポートを HTTP から呼び出すための gin ハンドラーを提供します。
package export

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/notion-exporter/internal/notion"
)

// Service はエクスポート処理を提供します。*notion.Exporter が実装します。
type Service interface {
	GetTaskID(ctx context.Context, idOrURL string) (string, error)
	GetZipURL(ctx context.Context, idOrURL string) (string, error)
	GetCSVString(ctx context.Context, idOrURL string) (string, error)
	GetMDString(ctx context.Context, idOrURL string) (string, error)
	GetFileString(ctx context.Context, idOrURL string, predicate notion.EntryPredicate) (string, error)
}

// JobScheduler はエクスポートを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, idOrURL string, sel Selection) (string, error)
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler JobScheduler
}

// Request はエクスポート API のリクエストボディです。
type Request struct {
	ID     string `json:"id"`
	Suffix string `json:"suffix,omitempty"`
	Async  bool   `json:"async,omitempty"`
}

// TaskHandler は POST /api/exports/task のハンドラーを返します。
func TaskHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}

		taskID, err := svc.GetTaskID(c.Request.Context(), req.ID)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"taskId": taskID})
	}
}

// ZipURLHandler は POST /api/exports/url のハンドラーを返します。
func ZipURLHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}

		zipURL, err := svc.GetZipURL(c.Request.Context(), req.ID)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": zipURL})
	}
}

// CSVHandler は POST /api/exports/csv のハンドラーを返します。
func CSVHandler(svc Service, opts HandlerOptions) gin.HandlerFunc {
	return extractHandler(svc, FormatCSV, opts)
}

// MarkdownHandler は POST /api/exports/markdown のハンドラーを返します。
func MarkdownHandler(svc Service, opts HandlerOptions) gin.HandlerFunc {
	return extractHandler(svc, FormatMarkdown, opts)
}

// FileHandler は POST /api/exports/file のハンドラーを返します。suffix が必須です。
func FileHandler(svc Service, opts HandlerOptions) gin.HandlerFunc {
	return extractHandler(svc, FormatFile, opts)
}

func extractHandler(svc Service, format Format, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}

		sel, err := NewSelection(format, req.Suffix)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "suffix を指定してください。例: .csv",
			})
			return
		}

		if shouldProcessAsync(req, opts) {
			// キュー投入前に ID を検証し、失敗が確定しているジョブを作らない
			if _, ok := notion.NormalizeBlockID(req.ID); !ok {
				RespondWithError(c, notion.ErrInvalidIdentifier)
				return
			}
			jobID, err := opts.Scheduler.Schedule(c.Request.Context(), req.ID, sel)
			if err != nil {
				RespondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
			return
		}

		text, err := fetch(c.Request.Context(), svc, req.ID, sel)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		WriteText(c, sel, text)
	}
}

func fetch(ctx context.Context, svc Service, idOrURL string, sel Selection) (string, error) {
	switch sel.Format {
	case FormatCSV:
		return svc.GetCSVString(ctx, idOrURL)
	case FormatMarkdown:
		return svc.GetMDString(ctx, idOrURL)
	default:
		return svc.GetFileString(ctx, idOrURL, sel.Predicate())
	}
}

func shouldProcessAsync(req *Request, opts HandlerOptions) bool {
	return req != nil && req.Async && opts.Scheduler != nil
}

func bindRequest(c *gin.Context) (*Request, bool) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "JSON 形式で id を送信してください。",
		})
		return nil, false
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ページの URL またはブロック ID を指定してください。",
		})
		return nil, false
	}
	return &req, true
}

// WriteText は取り出したファイルの内容をレスポンスとして書き込みます。
func WriteText(c *gin.Context, sel Selection, text string) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, sel.ContentType(), []byte(text))
}

// RespondWithError はエラーを {code, message} 形式の JSON に変換して返します。
func RespondWithError(c *gin.Context, err error) {
	var apiErr *notion.Error
	var statusErr *notion.StatusError
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "UPSTREAM_ERROR",
			"message": "エクスポートサービスがエラーを返しました。",
		})
	case isTimeout(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"code":    "UPSTREAM_TIMEOUT",
			"message": "エクスポートサービスの応答がタイムアウトしました。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

// isTimeout は期限切れ、または http.Client のタイムアウトかどうかを判定します。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusForCode(code string) int {
	switch code {
	case notion.CodeInvalidIdentifier:
		return http.StatusBadRequest
	case notion.CodeEntryNotFound:
		return http.StatusNotFound
	case notion.CodeExportFailed, notion.CodeNotArchive:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
