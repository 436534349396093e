package notion

// TaskState はエクスポートタスクの状態です。
type TaskState string

const (
	TaskStateInProgress TaskState = "in_progress"
	TaskStateSuccess    TaskState = "success"
	TaskStateFailure    TaskState = "failure"
)

// Task は getTasks が返すタスク1件分です。ポーリングのたびに取り直します。
type Task struct {
	ID     string     `json:"id"`
	State  TaskState  `json:"state"`
	Status TaskStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// TaskStatus はタスクの進捗情報です。ExportURL は成功時のみ設定されます。
type TaskStatus struct {
	Type          string `json:"type,omitempty"`
	PagesExported int    `json:"pagesExported,omitempty"`
	ExportURL     string `json:"exportURL,omitempty"`
}

// ExportOptions は exportBlock タスクに渡す書き出し設定です。
type ExportOptions struct {
	ExportType string `json:"exportType"`
	TimeZone   string `json:"timeZone"`
	Locale     string `json:"locale"`
}

type blockRef struct {
	ID string `json:"id"`
}

type exportRequest struct {
	Block         blockRef      `json:"block"`
	Recursive     bool          `json:"recursive"`
	ExportOptions ExportOptions `json:"exportOptions"`
}

type enqueueTask struct {
	EventName string        `json:"eventName"`
	Request   exportRequest `json:"request"`
}

type enqueueTaskRequest struct {
	Task enqueueTask `json:"task"`
}

type enqueueTaskResponse struct {
	TaskID string `json:"taskId"`
}

type getTasksRequest struct {
	TaskIDs []string `json:"taskIds"`
}

type getTasksResponse struct {
	Results []Task `json:"results"`
}

func newExportRequest(blockID string) enqueueTaskRequest {
	return enqueueTaskRequest{
		Task: enqueueTask{
			EventName: eventExportBlock,
			Request: exportRequest{
				Block:     blockRef{ID: blockID},
				Recursive: false,
				ExportOptions: ExportOptions{
					ExportType: exportTypeMarkdown,
					TimeZone:   exportTimeZone,
					Locale:     exportLocale,
				},
			},
		},
	}
}
