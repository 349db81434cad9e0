package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matthewmarion/batchboy/internal/batch"
	"github.com/matthewmarion/batchboy/internal/metrics"
	"github.com/matthewmarion/batchboy/internal/state"
)

func (s *Service) CreateJob(ctx context.Context, req *batch.CreateJobRequest) (*batch.JobInfo, error) {
	slog.Info("CreateJob called", "job", req.JobID, "pool", req.PoolID)

	if err := validateID("job", req.JobID); err != nil {
		return nil, err
	}
	if err := validateID("pool", req.PoolID); err != nil {
		return nil, err
	}

	// A recreated job gets a fresh directory so a pending removal of the
	// previous one cannot touch it.
	job := &state.Job{
		ID:        req.JobID,
		PoolID:    req.PoolID,
		CreatedAt: time.Now(),
		Dir:       filepath.Join(s.workDir, req.JobID+"-"+uuid.NewString()[:8]),
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, storeError(err)
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		s.store.DeleteJob(job.ID)
		return nil, status.Errorf(codes.Internal, "creating job directory: %v", err)
	}
	metrics.ActiveJobs.Inc()

	return jobToWire(job, nil), nil
}

func (s *Service) GetJob(ctx context.Context, req *batch.GetJobRequest) (*batch.JobInfo, error) {
	job, err := s.store.GetJob(req.JobID)
	if err != nil {
		return nil, storeError(err)
	}
	tasks, err := s.store.ListTasks(req.JobID)
	if err != nil {
		return nil, storeError(err)
	}
	return jobToWire(job, tasks), nil
}

func (s *Service) ListJobs(ctx context.Context, req *batch.ListJobsRequest) (*batch.ListJobsResponse, error) {
	slog.Info("ListJobs called", "pool", req.PoolID)

	resp := &batch.ListJobsResponse{Jobs: []batch.JobInfo{}}
	for _, job := range s.store.ListJobs(req.PoolID) {
		tasks, err := s.store.ListTasks(job.ID)
		if err != nil {
			// deleted concurrently
			continue
		}
		resp.Jobs = append(resp.Jobs, *jobToWire(job, tasks))
	}
	return resp, nil
}

// DeleteJob removes the job at once, terminates its tasks and removes its
// directory once they have stopped.
func (s *Service) DeleteJob(ctx context.Context, req *batch.DeleteJobRequest) (*batch.Empty, error) {
	slog.Info("DeleteJob called", "job", req.JobID)

	job, tasks, err := s.store.DeleteJob(req.JobID)
	if err != nil {
		return nil, storeError(err)
	}
	metrics.ActiveJobs.Dec()

	for _, t := range tasks {
		t.Cancel()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, t := range tasks {
			<-t.Done()
		}
		if err := os.RemoveAll(job.Dir); err != nil {
			slog.Warn("failed to remove job directory", "job", job.ID, "dir", job.Dir, "error", err)
			return
		}
		slog.Debug("job directory removed", "job", job.ID)
	}()

	return &batch.Empty{}, nil
}

func jobToWire(job *state.Job, tasks []*state.Task) *batch.JobInfo {
	info := &batch.JobInfo{
		ID:        job.ID,
		PoolID:    job.PoolID,
		CreatedAt: job.CreatedAt,
	}
	for _, t := range tasks {
		info.Tasks = append(info.Tasks, *taskToWire(t))
	}
	return info
}
