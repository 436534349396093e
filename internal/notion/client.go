// Package notion は Notion のエクスポート API を利用してブロック/ページを
// ZIP として書き出し、その中のファイルを文字列として取り出すクライアントを提供します。
//
// 処理の流れ:
//   - ID 正規化: URL や ID 文字列から 8-4-4-4-12 形式のブロック ID を得る
//   - タスク投入: enqueueTask に exportBlock タスクを登録する
//   - ポーリング: getTasks を一定間隔で呼び、完了すればダウンロード URL を得る
//   - 展開: ZIP を取得し、条件に合う最初のエントリを文字列にする
//
// Exporter は設定のみを保持するため、複数のゴルーチンから同時に利用できます。
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL は Notion 非公開 API のベース URL です。
	DefaultBaseURL = "https://www.notion.so/api/v3/"
	// DefaultPollInterval はタスク状態を問い合わせる間隔です。
	DefaultPollInterval = 50 * time.Millisecond

	eventExportBlock   = "exportBlock"
	exportTypeMarkdown = "markdown"
	exportTimeZone     = "Europe/Zurich"
	exportLocale       = "en"

	maxErrorBodySize = 4 << 10
)

// Exporter は Notion のエクスポートクライアントです。
type Exporter struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       logrus.FieldLogger
}

// Option は Exporter の設定を変更します。
type Option func(*Exporter)

// WithBaseURL は API のベース URL を差し替えます（テストや社内プロキシ用）。
func WithBaseURL(baseURL string) Option {
	return func(e *Exporter) {
		if strings.TrimSpace(baseURL) == "" {
			return
		}
		e.baseURL = strings.TrimRight(baseURL, "/") + "/"
	}
}

// WithHTTPClient は通信に使う http.Client を差し替えます。
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exporter) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// WithPollInterval はポーリング間隔を変更します。0 以下は無視します。
func WithPollInterval(interval time.Duration) Option {
	return func(e *Exporter) {
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

// WithLogger はデバッグログの出力先を設定します。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExporter は Exporter を作成します。
// token には対象ページの閲覧権限を持つユーザーの token_v2 Cookie の値を渡します。
func NewExporter(token string, opts ...Option) *Exporter {
	e := &Exporter{
		token:        strings.TrimSpace(token),
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{},
		pollInterval: DefaultPollInterval,
		logger:       discardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PollInterval は現在のポーリング間隔を返します。
func (e *Exporter) PollInterval() time.Duration {
	return e.pollInterval
}

// GetTaskID はブロックのエクスポートタスクを登録し、タスク ID を返します。
// ID が不正な場合は通信を行わず ErrInvalidIdentifier を返します。
func (e *Exporter) GetTaskID(ctx context.Context, idOrURL string) (string, error) {
	blockID, ok := NormalizeBlockID(idOrURL)
	if !ok {
		return "", newError(ErrInvalidIdentifier, fmt.Errorf("%q", idOrURL))
	}

	var res enqueueTaskResponse
	if err := e.postJSON(ctx, "enqueueTask", newExportRequest(blockID), &res); err != nil {
		return "", err
	}
	if res.TaskID == "" {
		return "", fmt.Errorf("enqueueTask returned no taskId for block %s", blockID)
	}

	e.logger.WithFields(logrus.Fields{
		"blockId": blockID,
		"taskId":  res.TaskID,
	}).Debug("export task enqueued")
	return res.TaskID, nil
}

// GetZipURL はタスクを登録して完了まで待ち、ZIP のダウンロード URL を返します。
func (e *Exporter) GetZipURL(ctx context.Context, idOrURL string) (string, error) {
	taskID, err := e.GetTaskID(ctx, idOrURL)
	if err != nil {
		return "", err
	}
	return e.WaitForExport(ctx, taskID)
}

// GetZip は URL から ZIP を取得します。
func (e *Exporter) GetZip(ctx context.Context, zipURL string) (*Archive, error) {
	endpoint, err := e.resolve(zipURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if e.sameOrigin(req.URL) {
		e.authorize(req)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(req, resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return OpenArchive(data)
}

// GetFileString はブロックをエクスポートし、predicate に合う最初のファイルを文字列で返します。
func (e *Exporter) GetFileString(ctx context.Context, idOrURL string, predicate EntryPredicate) (string, error) {
	zipURL, err := e.GetZipURL(ctx, idOrURL)
	if err != nil {
		return "", err
	}
	archive, err := e.GetZip(ctx, zipURL)
	if err != nil {
		return "", err
	}
	return ExtractString(archive, predicate)
}

// GetCSVString は最初の CSV ファイルを返します。
func (e *Exporter) GetCSVString(ctx context.Context, idOrURL string) (string, error) {
	return e.GetFileString(ctx, idOrURL, HasSuffix(".csv"))
}

// GetMDString は最初の Markdown ファイルを返します。
func (e *Exporter) GetMDString(ctx context.Context, idOrURL string) (string, error) {
	return e.GetFileString(ctx, idOrURL, HasSuffix(".md"))
}

func (e *Exporter) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	endpoint, err := e.resolve(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	e.authorize(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(req, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (e *Exporter) authorize(req *http.Request) {
	req.Header.Set("Cookie", fmt.Sprintf("token_v2=%s; ", e.token))
}

// sameOrigin は target が API と同じホストかどうかを返します。
// エクスポート URL は署名付きの外部ホストを指すことがあり、そこへはトークンを送りません。
func (e *Exporter) sameOrigin(target *url.URL) bool {
	base, err := url.Parse(e.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Scheme, target.Scheme) && strings.EqualFold(base.Host, target.Host)
}

// resolve は相対パスをベース URL 基準で解決する。絶対 URL はそのまま使う。
func (e *Exporter) resolve(ref string) (string, error) {
	base, err := url.Parse(e.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return base.ResolveReference(target).String(), nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &StatusError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(slurp)),
	}
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
