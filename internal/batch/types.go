package batch

import (
	"regexp"
	"time"
)

// Names of the files every completed task exposes through GetTaskOutput.
const (
	StandardOutFileName   = "stdout.txt"
	StandardErrorFileName = "stderr.txt"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can name a pool, job or task.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type TaskState string

const (
	TaskActive    TaskState = "active"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
)

type Pool struct {
	ID          string    `json:"id"`
	VMSize      string    `json:"vmSize"`
	TargetNodes int       `json:"targetNodes"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// ResourceFile is downloaded from HTTPURL to FilePath, relative to the
// task working directory, before the task's command starts.
type ResourceFile struct {
	HTTPURL  string `json:"httpUrl"`
	FilePath string `json:"filePath"`
}

type TaskSpec struct {
	ID            string            `json:"id"`
	CommandLine   string            `json:"commandLine"`
	ResourceFiles []ResourceFile    `json:"resourceFiles,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
}

type TaskInfo struct {
	JobID       string    `json:"jobId"`
	ID          string    `json:"id"`
	State       TaskState `json:"state"`
	ExitCode    int       `json:"exitCode"`
	FailureInfo string    `json:"failureInfo,omitempty"`
	StartTime   time.Time `json:"startTime,omitempty"`
	EndTime     time.Time `json:"endTime,omitempty"`
}

type JobInfo struct {
	ID        string     `json:"id"`
	PoolID    string     `json:"poolId"`
	Tasks     []TaskInfo `json:"tasks,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type CreatePoolRequest struct {
	Pool Pool `json:"pool"`
}

type GetPoolRequest struct {
	PoolID string `json:"poolId"`
}

type CreateJobRequest struct {
	JobID  string `json:"jobId"`
	PoolID string `json:"poolId"`
}

type GetJobRequest struct {
	JobID string `json:"jobId"`
}

type ListJobsRequest struct {
	// PoolID filters the result when set.
	PoolID string `json:"poolId,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

type DeleteJobRequest struct {
	JobID string `json:"jobId"`
}

type AddTaskRequest struct {
	JobID string   `json:"jobId"`
	Task  TaskSpec `json:"task"`
}

type GetTaskRequest struct {
	JobID  string `json:"jobId"`
	TaskID string `json:"taskId"`
}

// WaitTaskRequest blocks until the task reaches State or Timeout elapses.
type WaitTaskRequest struct {
	JobID   string        `json:"jobId"`
	TaskID  string        `json:"taskId"`
	State   TaskState     `json:"state"`
	Timeout time.Duration `json:"timeout"`
}

type GetTaskOutputRequest struct {
	JobID    string `json:"jobId"`
	TaskID   string `json:"taskId"`
	FileName string `json:"fileName"`
}

// TaskOutput carries the raw bytes of an output file, base64 encoded on the
// wire so output that is not UTF-8 survives.
type TaskOutput struct {
	Content []byte `json:"content"`
}

type Empty struct{}
