package state

import (
	"context"
	"path/filepath"
	"sync"
	"time"
)

type TaskStatus int

const (
	StatusActive TaskStatus = iota
	StatusRunning
	StatusCompleted
)

func (s TaskStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const (
	StdoutFileName = "stdout.txt"
	StderrFileName = "stderr.txt"
)

// ResourceFile is fetched from URL into FilePath, relative to the task
// working directory, before the command runs.
type ResourceFile struct {
	URL      string
	FilePath string
}

// Task is a single command execution within a job. Status fields are
// updated by the executor and read concurrently by the server.
type Task struct {
	ID            string
	JobID         string
	PoolID        string
	CommandLine   string
	ResourceFiles []ResourceFile
	Env           map[string]string
	// Dir holds the output files; the command runs in WorkingDir.
	Dir string

	mu        sync.Mutex
	status    TaskStatus
	exitCode  int
	failure   string
	startTime time.Time
	endTime   time.Time
	cancel    context.CancelFunc
	running   chan struct{}
	done      chan struct{}
}

// NewTask returns an active task.
func NewTask(id, jobID, poolID, commandLine, dir string, files []ResourceFile, env map[string]string) *Task {
	if env == nil {
		env = make(map[string]string)
	}
	return &Task{
		ID:            id,
		JobID:         jobID,
		PoolID:        poolID,
		CommandLine:   commandLine,
		ResourceFiles: files,
		Env:           env,
		Dir:           dir,
		status:        StatusActive,
		running:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// WorkingDir is where resource files are materialized and the command runs.
func (t *Task) WorkingDir() string {
	return filepath.Join(t.Dir, "wd")
}

// OutputPath returns the path of one of the task's output files.
func (t *Task) OutputPath(name string) string {
	return filepath.Join(t.Dir, name)
}

// SetCancel records the function that stops the task's execution.
func (t *Task) SetCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// Cancel stops the task's execution if it is still in progress.
func (t *Task) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// MarkRunning moves an active task to running.
func (t *Task) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return
	}
	t.status = StatusRunning
	t.startTime = time.Now()
	close(t.running)
}

// Complete records the task's result. Only the first call has an effect.
func (t *Task) Complete(exitCode int, failure string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCompleted {
		return
	}
	if t.status == StatusActive {
		close(t.running)
	}
	now := time.Now()
	if t.startTime.IsZero() {
		t.startTime = now
	}
	t.status = StatusCompleted
	t.exitCode = exitCode
	t.failure = failure
	t.endTime = now
	close(t.done)
}

// Running is closed once the task has left the active state.
func (t *Task) Running() <-chan struct{} {
	return t.running
}

// Done is closed once the task has completed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// TaskSnapshot is a consistent copy of a task's mutable fields.
type TaskSnapshot struct {
	Status    TaskStatus
	ExitCode  int
	Failure   string
	StartTime time.Time
	EndTime   time.Time
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskSnapshot{
		Status:    t.status,
		ExitCode:  t.exitCode,
		Failure:   t.failure,
		StartTime: t.startTime,
		EndTime:   t.endTime,
	}
}
