package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"

	"github.com/matthewmarion/batchboy/internal/state"
)

// SubprocessExecutor runs tasks as processes on the daemon's host.
type SubprocessExecutor struct {
	fetcher Fetcher
}

func NewSubprocessExecutor(fetcher Fetcher) *SubprocessExecutor {
	return &SubprocessExecutor{fetcher: fetcher}
}

func (e *SubprocessExecutor) Run(ctx context.Context, task *state.Task) {
	logger := slog.With("job", task.JobID, "task", task.ID)
	task.MarkRunning()

	args, _, err := prepare(ctx, e.fetcher, task)
	if err != nil {
		logger.Error("task preparation failed", "error", err)
		task.Complete(-1, err.Error())
		return
	}

	stdout, stderr, err := createOutputs(task)
	if err != nil {
		logger.Error("task preparation failed", "error", err)
		task.Complete(-1, err.Error())
		return
	}
	defer stdout.Close()
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = task.WorkingDir()
	cmd.Env = append(os.Environ(), taskEnv(task, task.WorkingDir())...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Info("starting subprocess", "command", args)

	exitCode, failure := exitStatus(ctx, cmd.Run())
	if failure != "" {
		logger.Error("subprocess failed", "error", failure)
	} else {
		logger.Info("subprocess completed", "exit_code", exitCode)
	}
	task.Complete(exitCode, failure)
}

// exitStatus turns the result of running a command into an exit code and a
// failure message. A non-zero exit is a completed task, not a failure.
func exitStatus(ctx context.Context, err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	if ctx.Err() != nil {
		return -1, "task terminated: " + ctx.Err().Error()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), ""
	}
	return -1, err.Error()
}
