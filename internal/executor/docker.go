package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/matthewmarion/batchboy/internal/state"
)

const (
	containerTaskDir    = "/task"
	containerWorkingDir = containerTaskDir + "/wd"
)

// DockerExecutor runs each task in a container of a fixed image, with the
// task directory bind-mounted at /task.
type DockerExecutor struct {
	client  *client.Client
	image   string
	fetcher Fetcher
}

func NewDockerExecutor(image string, fetcher Fetcher) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerExecutor{client: cli, image: image, fetcher: fetcher}, nil
}

func (e *DockerExecutor) Run(ctx context.Context, task *state.Task) {
	logger := slog.With("job", task.JobID, "task", task.ID, "image", e.image)
	task.MarkRunning()

	fail := func(msg string, err error) {
		logger.Error(msg, "error", err)
		task.Complete(-1, fmt.Sprintf("%s: %v", msg, err))
	}

	args, local, err := prepare(ctx, e.fetcher, task)
	if err != nil {
		fail("task preparation failed", err)
		return
	}
	absDir, err := filepath.Abs(task.Dir)
	if err != nil {
		fail("task preparation failed", err)
		return
	}
	if local {
		wd, err := filepath.Abs(task.WorkingDir())
		if err != nil {
			fail("task preparation failed", err)
			return
		}
		rel, _ := filepath.Rel(wd, args[0])
		args[0] = path.Join(containerWorkingDir, filepath.ToSlash(rel))
	}

	if err := e.ensureImage(ctx); err != nil {
		fail("image pull failed", err)
		return
	}

	logger.Info("creating container", "command", args)
	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image:      e.image,
		Cmd:        args,
		Env:        taskEnv(task, containerWorkingDir),
		WorkingDir: containerWorkingDir,
	}, &container.HostConfig{
		Mounts: []mount.Mount{{Type: mount.TypeBind, Source: absDir, Target: containerTaskDir}},
	}, nil, nil, "")
	if err != nil {
		fail("container create failed", err)
		return
	}
	logger = logger.With("container_id", resp.ID)

	// The container is removed even when ctx has been cancelled.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn("failed to remove container", "error", err)
		}
	}()

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		fail("container start failed", err)
		return
	}

	exitCode, failure := e.wait(ctx, logger, resp.ID)

	if err := e.collectLogs(resp.ID, task); err != nil {
		logger.Warn("failed to collect container output", "error", err)
	}

	if failure != "" {
		logger.Error("container failed", "error", failure)
	} else {
		logger.Info("container completed", "exit_code", exitCode)
	}
	task.Complete(exitCode, failure)
}

func (e *DockerExecutor) wait(ctx context.Context, logger *slog.Logger, id string) (int, string) {
	statusCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case result := <-statusCh:
		if result.Error != nil {
			return int(result.StatusCode), result.Error.Message
		}
		return int(result.StatusCode), ""
	case err := <-errCh:
		if ctx.Err() != nil {
			logger.Info("stopping container", "reason", ctx.Err())
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			timeout := 5
			_ = e.client.ContainerStop(stopCtx, id, container.StopOptions{Timeout: &timeout})
			return -1, "task terminated: " + ctx.Err().Error()
		}
		return -1, fmt.Sprintf("container wait failed: %v", err)
	}
}

// collectLogs splits the container's multiplexed log stream into the
// task's stdout and stderr files.
func (e *DockerExecutor) collectLogs(id string, task *state.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stdout, stderr, err := createOutputs(task)
	if err != nil {
		return err
	}
	defer stdout.Close()
	defer stderr.Close()

	logs, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, logs)
	return err
}

func (e *DockerExecutor) ensureImage(ctx context.Context) error {
	if _, _, err := e.client.ImageInspectWithRaw(ctx, e.image); err == nil {
		return nil
	}
	reader, err := e.client.ImagePull(ctx, e.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}
