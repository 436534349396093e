package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type pollStep int

const (
	pollContinue pollStep = iota
	pollDone
	pollFailed
)

// nextStep はタスクの状態から次の動作を決めます。
// タスクが見つからない場合や URL のない success は失敗として扱います。
func nextStep(task *Task) (pollStep, string) {
	if task == nil {
		return pollFailed, ""
	}
	switch {
	case task.State == TaskStateSuccess && task.Status.ExportURL != "":
		return pollDone, task.Status.ExportURL
	case task.State == TaskStateInProgress:
		return pollContinue, ""
	default:
		return pollFailed, ""
	}
}

// WaitForExport はタスクが終了状態になるまで一定間隔で問い合わせ、ダウンロード URL を返します。
//
// 問い合わせ回数と全体の待ち時間に上限はありません。待機中はタイマーと ctx を select で待つため
// スレッドを占有しません。打ち切りたい場合は呼び出し側が ctx をキャンセルしてください。
func (e *Exporter) WaitForExport(ctx context.Context, taskID string) (string, error) {
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	log := e.logger.WithField("taskId", taskID)
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}

		task, err := e.getTask(ctx, taskID)
		if err != nil {
			return "", err
		}

		step, exportURL := nextStep(task)
		switch step {
		case pollDone:
			log.WithField("attempts", attempt).Debug("export task finished")
			return exportURL, nil
		case pollFailed:
			return "", newError(ErrExportFailed, describeTask(taskID, task))
		}

		log.WithFields(logrus.Fields{
			"attempt":       attempt,
			"pagesExported": task.Status.PagesExported,
		}).Debug("export task in progress")
		timer.Reset(e.pollInterval)
	}
}

// getTask は taskID に一致するタスクを返す。結果に含まれない場合は nil を返す。
func (e *Exporter) getTask(ctx context.Context, taskID string) (*Task, error) {
	var res getTasksResponse
	if err := e.postJSON(ctx, "getTasks", getTasksRequest{TaskIDs: []string{taskID}}, &res); err != nil {
		return nil, err
	}
	for i := range res.Results {
		if res.Results[i].ID == taskID {
			task := res.Results[i]
			return &task, nil
		}
	}
	return nil, nil
}

func describeTask(taskID string, task *Task) error {
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Error != "" {
		return fmt.Errorf("task %s ended in state %q: %s", taskID, task.State, task.Error)
	}
	return fmt.Errorf("task %s ended in state %q", taskID, task.State)
}
