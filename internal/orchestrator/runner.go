// Package orchestrator provisions pools and drives a single-task job from
// submission to collected output.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/matthewmarion/batchboy/internal/artifact"
	"github.com/matthewmarion/batchboy/internal/batch"
)

const (
	DefaultJobTimeout     = 5 * time.Minute
	DefaultCleanupTimeout = 30 * time.Second
	DefaultTaskID         = "main"
)

// BatchService is the part of the batch service client the runner uses.
type BatchService interface {
	CreatePool(ctx context.Context, pool batch.Pool) (*batch.Pool, error)
	CreateJob(ctx context.Context, jobID, poolID string) (*batch.JobInfo, error)
	AddTask(ctx context.Context, jobID string, task batch.TaskSpec) (*batch.TaskInfo, error)
	WaitTask(ctx context.Context, jobID, taskID string, state batch.TaskState, timeout time.Duration) (*batch.TaskInfo, error)
	GetTaskOutput(ctx context.Context, jobID, taskID, fileName string) (string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

type ReferenceResolver interface {
	ResolveReferences(ctx context.Context, container string) ([]artifact.ResourceReference, error)
}

type RunnerConfig struct {
	PoolID      string
	PoolVMSize  string
	PoolNodes   int
	CommandLine string
	// Timeout bounds the wait for task completion.
	Timeout        time.Duration
	CleanupTimeout time.Duration
}

// JobSpec describes one run of a single-task job.
type JobSpec struct {
	JobID       string
	PoolID      string
	TaskID      string
	CommandLine string
	References  []artifact.ResourceReference
	Timeout     time.Duration
}

// Output is the result of a completed task.
type Output struct {
	JobID       string
	TaskID      string
	ExitCode    int
	FailureInfo string
	Stdout      string
	Stderr      string
}

type Runner struct {
	svc      BatchService
	resolver ReferenceResolver
	cfg      RunnerConfig
	now      func() time.Time
}

func NewRunner(svc BatchService, resolver ReferenceResolver, cfg RunnerConfig) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	if cfg.PoolNodes <= 0 {
		cfg.PoolNodes = 1
	}
	return &Runner{svc: svc, resolver: resolver, cfg: cfg, now: time.Now}
}

// EnsurePool creates the pool, treating an existing pool as success.
func (r *Runner) EnsurePool(ctx context.Context, poolID, vmSize string, nodes int) error {
	_, err := r.svc.CreatePool(ctx, batch.Pool{ID: poolID, VMSize: vmSize, TargetNodes: nodes})
	switch {
	case err == nil:
		slog.Info("pool created", "pool", poolID, "vm_size", vmSize, "nodes", nodes)
		return nil
	case errors.Is(err, batch.ErrAlreadyExists):
		slog.Debug("pool already exists", "pool", poolID)
		return nil
	default:
		return &PoolProvisionError{PoolID: poolID, Err: err}
	}
}

// RunAndGetOutput runs the staged contents of container as a new job on the
// configured pool.
func (r *Runner) RunAndGetOutput(ctx context.Context, container string) (*Output, error) {
	if err := r.EnsurePool(ctx, r.cfg.PoolID, r.cfg.PoolVMSize, r.cfg.PoolNodes); err != nil {
		return nil, err
	}
	refs, err := r.resolver.ResolveReferences(ctx, container)
	if err != nil {
		return nil, err
	}
	return r.RunJob(ctx, JobSpec{
		JobID:       NewJobID(container, r.now()),
		PoolID:      r.cfg.PoolID,
		TaskID:      DefaultTaskID,
		CommandLine: r.cfg.CommandLine,
		References:  refs,
		Timeout:     r.cfg.Timeout,
	})
}

// RunJob creates the job, submits its task, waits for completion and reads
// the task's output. The job is deleted on every path once creation has
// been attempted, unless the id belonged to a job that already existed.
func (r *Runner) RunJob(ctx context.Context, spec JobSpec) (out *Output, err error) {
	if spec.TaskID == "" {
		spec.TaskID = DefaultTaskID
	}
	if spec.Timeout <= 0 {
		spec.Timeout = r.cfg.Timeout
	}
	logger := slog.With("job", spec.JobID, "task", spec.TaskID)

	ours := true
	defer func() {
		if ours {
			r.cleanup(ctx, logger, spec.JobID)
		}
	}()

	if _, err := r.svc.CreateJob(ctx, spec.JobID, spec.PoolID); err != nil {
		ours = !errors.Is(err, batch.ErrAlreadyExists)
		return nil, fmt.Errorf("creating job %s: %w", spec.JobID, err)
	}
	logger.Info("job created", "pool", spec.PoolID)

	task := batch.TaskSpec{
		ID:          spec.TaskID,
		CommandLine: spec.CommandLine,
	}
	for _, ref := range spec.References {
		task.ResourceFiles = append(task.ResourceFiles, batch.ResourceFile{HTTPURL: ref.URL, FilePath: ref.Name})
	}
	if _, err := r.svc.AddTask(ctx, spec.JobID, task); err != nil {
		return nil, fmt.Errorf("adding task to job %s: %w", spec.JobID, err)
	}
	logger.Info("task submitted", "command", spec.CommandLine, "resource_files", len(task.ResourceFiles))

	info, err := r.wait(ctx, spec)
	if err != nil {
		return nil, err
	}
	logger.Info("task completed", "exit_code", info.ExitCode)

	out = &Output{
		JobID:       spec.JobID,
		TaskID:      spec.TaskID,
		ExitCode:    info.ExitCode,
		FailureInfo: info.FailureInfo,
	}
	if out.Stdout, err = r.svc.GetTaskOutput(ctx, spec.JobID, spec.TaskID, batch.StandardOutFileName); err != nil {
		return nil, fmt.Errorf("reading %s: %w", batch.StandardOutFileName, err)
	}
	if out.Stderr, err = r.svc.GetTaskOutput(ctx, spec.JobID, spec.TaskID, batch.StandardErrorFileName); err != nil {
		return nil, fmt.Errorf("reading %s: %w", batch.StandardErrorFileName, err)
	}
	return out, nil
}

func (r *Runner) wait(ctx context.Context, spec JobSpec) (*batch.TaskInfo, error) {
	waitCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	info, err := r.svc.WaitTask(waitCtx, spec.JobID, spec.TaskID, batch.TaskCompleted, spec.Timeout)
	switch {
	case err == nil:
		return info, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case waitCtx.Err() != nil || errors.Is(err, batch.ErrWaitTimeout):
		return nil, &JobTimeoutError{JobID: spec.JobID, TaskID: spec.TaskID, Timeout: spec.Timeout}
	default:
		return nil, fmt.Errorf("waiting for task %s: %w", spec.TaskID, err)
	}
}

// cleanup deletes the job on a context that survives the caller's
// cancellation. Failures are logged only.
func (r *Runner) cleanup(ctx context.Context, logger *slog.Logger, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CleanupTimeout)
	defer cancel()

	if err := r.svc.DeleteJob(ctx, jobID); err != nil {
		cerr := &JobCleanupError{JobID: jobID, Err: err}
		logger.Warn("job cleanup failed", "error", cerr)
		return
	}
	logger.Info("job deleted")
}

var jobIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const maxJobIDLen = 64

// NewJobID returns a job id unique per run:
// job-<scenario>-<HHMMSS>-<nanos>-<random>, at most 64 characters of
// letters, digits, hyphens and underscores.
func NewJobID(scenario string, t time.Time) string {
	suffix := fmt.Sprintf("-%s-%09d-%s", t.Format("150405"), t.Nanosecond(), uuid.NewString()[:8])
	name := jobIDUnsafe.ReplaceAllString(scenario, "-")
	if room := maxJobIDLen - len("job-") - len(suffix); len(name) > room {
		name = name[:room]
	}
	return "job-" + name + suffix
}
