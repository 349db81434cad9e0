package server

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matthewmarion/batchboy/internal/batch"
	"github.com/matthewmarion/batchboy/internal/metrics"
	"github.com/matthewmarion/batchboy/internal/state"
)

const (
	// maxWait caps a single WaitTask call.
	maxWait = 30 * time.Minute
	// maxOutputSize keeps base64-encoded GetTaskOutput responses below the
	// default gRPC message limit.
	maxOutputSize = 2 << 20
)

func (s *Service) AddTask(ctx context.Context, req *batch.AddTaskRequest) (*batch.TaskInfo, error) {
	spec := req.Task
	slog.Info("AddTask called", "job", req.JobID, "task", spec.ID, "command", spec.CommandLine, "resource_files", len(spec.ResourceFiles))

	if err := validateID("task", spec.ID); err != nil {
		return nil, err
	}
	if spec.CommandLine == "" {
		return nil, status.Error(codes.InvalidArgument, "task commandLine is required")
	}
	files := make([]state.ResourceFile, 0, len(spec.ResourceFiles))
	for _, rf := range spec.ResourceFiles {
		if rf.HTTPURL == "" || rf.FilePath == "" {
			return nil, status.Errorf(codes.InvalidArgument, "resource file needs httpUrl and filePath: %+v", rf)
		}
		files = append(files, state.ResourceFile{URL: rf.HTTPURL, FilePath: rf.FilePath})
	}

	job, err := s.store.GetJob(req.JobID)
	if err != nil {
		return nil, storeError(err)
	}

	task := state.NewTask(spec.ID, job.ID, job.PoolID, spec.CommandLine, job.TaskDir(spec.ID), files, spec.Environment)
	runCtx, cancel := context.WithCancel(s.runCtx)
	task.SetCancel(cancel)
	if err := s.store.AddTask(task); err != nil {
		cancel()
		return nil, storeError(err)
	}

	s.wg.Add(1)
	go s.run(runCtx, task)

	return taskToWire(task), nil
}

func (s *Service) run(ctx context.Context, task *state.Task) {
	defer s.wg.Done()
	defer task.Cancel()

	metrics.TasksStarted.WithLabelValues(task.PoolID).Inc()
	s.executor.Run(ctx, task)

	snap := task.Snapshot()
	metrics.ObserveTaskCompleted(task.PoolID, snap.ExitCode, snap.Failure, snap.EndTime.Sub(snap.StartTime))
	slog.Info("task completed", "job", task.JobID, "task", task.ID, "exit_code", snap.ExitCode, "failure", snap.Failure)
}

func (s *Service) GetTask(ctx context.Context, req *batch.GetTaskRequest) (*batch.TaskInfo, error) {
	task, err := s.store.GetTask(req.JobID, req.TaskID)
	if err != nil {
		return nil, storeError(err)
	}
	return taskToWire(task), nil
}

// WaitTask blocks until the task reaches the requested state, the timeout
// elapses or the caller goes away.
func (s *Service) WaitTask(ctx context.Context, req *batch.WaitTaskRequest) (*batch.TaskInfo, error) {
	task, err := s.store.GetTask(req.JobID, req.TaskID)
	if err != nil {
		return nil, storeError(err)
	}

	var reached <-chan struct{}
	switch req.State {
	case batch.TaskActive:
		return taskToWire(task), nil
	case batch.TaskRunning:
		reached = task.Running()
	case batch.TaskCompleted, "":
		reached = task.Done()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown task state %q", req.State)
	}

	timeout := req.Timeout
	if timeout <= 0 || timeout > maxWait {
		timeout = maxWait
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-reached:
		return taskToWire(task), nil
	case <-timer.C:
		return nil, status.Errorf(codes.DeadlineExceeded, "task %s/%s did not reach state %s within %s", req.JobID, req.TaskID, req.State, timeout)
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

func (s *Service) GetTaskOutput(ctx context.Context, req *batch.GetTaskOutputRequest) (*batch.TaskOutput, error) {
	var name string
	switch req.FileName {
	case batch.StandardOutFileName:
		name = state.StdoutFileName
	case batch.StandardErrorFileName:
		name = state.StderrFileName
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown output file %q", req.FileName)
	}

	task, err := s.store.GetTask(req.JobID, req.TaskID)
	if err != nil {
		return nil, storeError(err)
	}
	if task.Snapshot().Status != state.StatusCompleted {
		return nil, status.Errorf(codes.FailedPrecondition, "task %s/%s has not completed", req.JobID, req.TaskID)
	}

	content, err := readOutput(task.OutputPath(name))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading %s: %v", req.FileName, err)
	}
	return &batch.TaskOutput{Content: content}, nil
}

// readOutput returns at most maxOutputSize bytes of an output file. A task
// that failed before starting has no output files.
func readOutput(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxOutputSize))
}

func taskToWire(t *state.Task) *batch.TaskInfo {
	snap := t.Snapshot()
	info := &batch.TaskInfo{
		JobID:       t.JobID,
		ID:          t.ID,
		ExitCode:    snap.ExitCode,
		FailureInfo: snap.Failure,
		StartTime:   snap.StartTime,
		EndTime:     snap.EndTime,
	}
	switch snap.Status {
	case state.StatusActive:
		info.State = batch.TaskActive
	case state.StatusRunning:
		info.State = batch.TaskRunning
	default:
		info.State = batch.TaskCompleted
	}
	return info
}
