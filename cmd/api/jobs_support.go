package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/notion-exporter/internal/config"
	"github.com/yourusername/notion-exporter/internal/export"
	"github.com/yourusername/notion-exporter/internal/jobs"
)

// jobReader はジョブ系ハンドラーが利用する操作です。
type jobReader interface {
	GetRecord(ctx context.Context, jobID string) (*jobs.Record, error)
	OpenResult(ctx context.Context, jobID string) (*jobs.Result, error)
}

type exportJobScheduler struct {
	manager *jobs.Manager
}

func (s *exportJobScheduler) Schedule(ctx context.Context, idOrURL string, sel export.Selection) (string, error) {
	return s.manager.Enqueue(ctx, &jobs.TaskPayload{
		Source:    idOrURL,
		Selection: sel,
	})
}

func setupJobs(cfg *config.Config, exporter jobs.Exporter, logger logrus.FieldLogger) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, exporter, store, logger.WithField("component", "jobs"))
}

func jobStatusHandler(reader jobReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := reader.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"format":    record.Selection.Format,
			"status":    record.Status,
			"progress":  record.Progress,
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.ExportURL != "" {
			payload["exportUrl"] = record.ExportURL
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDownloadHandler(reader jobReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		result, err := reader.OpenResult(c.Request.Context(), jobID)
		switch {
		case err == nil:
		case errors.Is(err, jobs.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		case errors.Is(err, jobs.ErrJobNotReady):
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_NOT_READY",
				"message": "ジョブはまだ完了していません。",
			})
			return
		default:
			export.RespondWithError(c, err)
			return
		}

		c.Header("X-Job-Id", result.JobID)
		c.Header("X-Entry-Name", result.EntryName)
		export.WriteText(c, result.Selection, result.Text)
	}
}
