package jobs

import (
	"time"

	"github.com/yourusername/notion-exporter/internal/export"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ジョブの進行段階。
const (
	StageQueued    = "queued"
	StageSubmit    = "submit"
	StagePoll      = "poll"
	StageDownload  = "download"
	StageCompleted = "completed"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultMeta は取り出したエントリの情報です。内容そのものは保存しません。
type ResultMeta struct {
	EntryName   string `json:"entryName"`
	Size        int    `json:"size"`
	ArchiveSize int64  `json:"archiveSize"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID       string           `json:"jobId"`
	Source      string           `json:"source"`
	Selection   export.Selection `json:"selection"`
	Status      Status           `json:"status"`
	Progress    ProgressInfo     `json:"progress"`
	TaskID      string           `json:"taskId,omitempty"`
	ExportURL   string           `json:"exportUrl,omitempty"`
	DownloadURL string           `json:"downloadUrl,omitempty"`
	Meta        *ResultMeta      `json:"meta,omitempty"`
	Error       *ErrorInfo       `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// TaskPayload はエクスポートジョブのペイロードです。
type TaskPayload struct {
	JobID     string           `json:"jobId"`
	Source    string           `json:"source"`
	Selection export.Selection `json:"selection"`
}

// Result はダウンロード時に取り出したエントリです。
type Result struct {
	JobID     string
	Selection export.Selection
	EntryName string
	Text      string
}
