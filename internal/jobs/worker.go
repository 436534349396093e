package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/notion-exporter/internal/export"
	"github.com/yourusername/notion-exporter/internal/notion"
)

// 段階ごとの進捗率。
const (
	percentSubmit   = 10
	percentPoll     = 30
	percentDownload = 80
)

func (m *Manager) handleExportTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	return m.run(ctx, &payload)
}

// run はジョブを submit → poll → download の順に進め、結果を記録します。
// エクスポート自体の失敗は記録に残し、記録の保存に失敗した場合のみエラーを返します。
func (m *Manager) run(ctx context.Context, payload *TaskPayload) error {
	log := m.logger.WithField("jobId", payload.JobID)

	if err := m.update(ctx, payload.JobID, func(r *Record) {
		r.Status = StatusRunning
		r.Progress = ProgressInfo{Percent: percentSubmit, Stage: StageSubmit}
	}); err != nil {
		return err
	}

	taskID, err := m.exporter.GetTaskID(ctx, payload.Source)
	if err != nil {
		return m.failJobWithError(ctx, log, payload.JobID, err)
	}
	if err := m.update(ctx, payload.JobID, func(r *Record) {
		r.TaskID = taskID
		r.Progress = ProgressInfo{Percent: percentPoll, Stage: StagePoll}
	}); err != nil {
		return err
	}

	exportURL, err := m.exporter.WaitForExport(ctx, taskID)
	if err != nil {
		return m.failJobWithError(ctx, log, payload.JobID, err)
	}
	if err := m.update(ctx, payload.JobID, func(r *Record) {
		r.ExportURL = exportURL
		r.Progress = ProgressInfo{Percent: percentDownload, Stage: StageDownload}
	}); err != nil {
		return err
	}

	archive, err := m.exporter.GetZip(ctx, exportURL)
	if err != nil {
		return m.failJobWithError(ctx, log, payload.JobID, err)
	}
	entryName, text, err := extract(archive, payload.Selection)
	if err != nil {
		return m.failJobWithError(ctx, log, payload.JobID, err)
	}

	meta := &ResultMeta{
		EntryName:   entryName,
		Size:        len(text),
		ArchiveSize: archive.Size(),
	}
	log.WithFields(logrus.Fields{
		"taskId": taskID,
		"entry":  entryName,
	}).Info("export job finished")
	return m.finishJob(ctx, payload.JobID, meta)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, meta *ResultMeta) error {
	return m.update(ctx, jobID, func(r *Record) {
		r.Status = StatusSucceeded
		r.Progress = ProgressInfo{
			Percent: 100,
			Stage:   StageCompleted,
		}
		r.DownloadURL = fmt.Sprintf("/api/jobs/%s/download", jobID)
		r.Meta = meta
		r.Error = nil
	})
}

func (m *Manager) failJob(ctx context.Context, jobID, code, message string) error {
	return m.update(ctx, jobID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = &ErrorInfo{
			Code:    code,
			Message: message,
		}
	})
}

func (m *Manager) failJobWithError(ctx context.Context, log logrus.FieldLogger, jobID string, err error) error {
	log.WithError(err).Warn("export job failed")

	// ctx がキャンセルされていても失敗を記録できるようにする
	ctx = context.WithoutCancel(ctx)

	var apiErr *notion.Error
	var statusErr *notion.StatusError
	switch {
	case errors.As(err, &apiErr):
		return m.failJob(ctx, jobID, apiErr.Code, apiErr.Message)
	case errors.As(err, &statusErr):
		return m.failJob(ctx, jobID, "UPSTREAM_ERROR", statusErr.Error())
	case isTimeout(err):
		return m.failJob(ctx, jobID, "UPSTREAM_TIMEOUT", err.Error())
	case errors.Is(err, context.Canceled):
		return m.failJob(ctx, jobID, "REQUEST_CANCELED", err.Error())
	default:
		return m.failJob(ctx, jobID, "INTERNAL_ERROR", err.Error())
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// extract は選択条件に合うエントリ名と内容を返します。
func extract(archive *notion.Archive, sel export.Selection) (string, string, error) {
	predicate := sel.Predicate()
	text, err := notion.ExtractString(archive, predicate)
	if err != nil {
		return "", "", err
	}
	return archive.Find(predicate).Name, text, nil
}
