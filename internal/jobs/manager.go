// Package jobs は Asynq を使った非同期エクスポートジョブの投入と状態管理を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/notion-exporter/internal/config"
	"github.com/yourusername/notion-exporter/internal/notion"
)

const (
	taskTypeExport = "export:run"
	queueExport    = "export"
)

// ErrJobNotReady はジョブがまだ完了していないことを表します。
var ErrJobNotReady = errors.New("job is not finished")

// Exporter はジョブが利用するエクスポート処理です。*notion.Exporter が実装します。
type Exporter interface {
	GetTaskID(ctx context.Context, idOrURL string) (string, error)
	WaitForExport(ctx context.Context, taskID string) (string, error)
	GetZip(ctx context.Context, zipURL string) (*notion.Archive, error)
}

// Notifier はジョブ記録の変更を受け取ります。
type Notifier interface {
	Publish(jobID string, payload any)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    RecordStore
	exporter Exporter
	notifier Notifier
	logger   logrus.FieldLogger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, exporter Exporter, store RecordStore, logger logrus.FieldLogger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if exporter == nil {
		return nil, errors.New("exporter is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueExport: 1,
			},
			Logger: logger.WithField("component", "asynq"),
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:   client,
		server:   server,
		mux:      mux,
		store:    store,
		exporter: exporter,
		logger:   logger,
	}
	mux.HandleFunc(taskTypeExport, manager.handleExportTask)
	return manager, nil
}

// SetNotifier はジョブ記録の変更通知先を設定します。
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.WithError(err).Error("asynq server stopped")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入し、ジョブ ID を返します。
// エクスポートは再試行しないため MaxRetry(0) で投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.Source == "" {
		return "", fmt.Errorf("payload.Source is required")
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}

	record := &Record{
		JobID:     payload.JobID,
		Source:    payload.Source,
		Selection: payload.Selection,
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   StageQueued,
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}
	m.notify(record)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeExport, body, asynq.Queue(queueExport))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.TaskID(payload.JobID), asynq.MaxRetry(0)); err != nil {
		_ = m.failJob(ctx, payload.JobID, "QUEUE_ERROR", "ジョブの投入に失敗しました。")
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}

	m.logger.WithFields(logrus.Fields{
		"jobId":  payload.JobID,
		"format": payload.Selection.Format,
	}).Info("export job queued")
	return payload.JobID, nil
}

// GetRecord はジョブ情報を取得します。存在しない場合は nil を返します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// OpenResult は完了したジョブのエクスポート URL から ZIP を取得し直し、対象エントリを取り出します。
// 内容はどこにも保存していないため、呼び出すたびにダウンロードが発生します。
func (m *Manager) OpenResult(ctx context.Context, jobID string) (*Result, error) {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if record.Status != StatusSucceeded || record.ExportURL == "" {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotReady, jobID, record.Status)
	}

	archive, err := m.exporter.GetZip(ctx, record.ExportURL)
	if err != nil {
		return nil, err
	}
	entryName, text, err := extract(archive, record.Selection)
	if err != nil {
		return nil, err
	}
	return &Result{
		JobID:     jobID,
		Selection: record.Selection,
		EntryName: entryName,
		Text:      text,
	}, nil
}

func (m *Manager) update(ctx context.Context, jobID string, mutate func(*Record)) error {
	record, err := m.store.Update(ctx, jobID, mutate)
	if err != nil {
		return err
	}
	m.notify(record)
	return nil
}

func (m *Manager) notify(record *Record) {
	if m.notifier == nil || record == nil {
		return
	}
	m.notifier.Publish(record.JobID, record)
}
