package orchestrator

import (
	"fmt"
	"time"
)

// PoolProvisionError is a pool creation failure other than the pool
// already existing.
type PoolProvisionError struct {
	PoolID string
	Err    error
}

func (e *PoolProvisionError) Error() string {
	return fmt.Sprintf("provisioning pool %s: %v", e.PoolID, e.Err)
}

func (e *PoolProvisionError) Unwrap() error { return e.Err }

// JobTimeoutError means the task did not complete within the wait bound.
type JobTimeoutError struct {
	JobID   string
	TaskID  string
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s: task %s did not complete within %s", e.JobID, e.TaskID, e.Timeout)
}

// JobCleanupError is a failure to delete a job after its run. It is logged,
// never returned by RunJob.
type JobCleanupError struct {
	JobID string
	Err   error
}

func (e *JobCleanupError) Error() string {
	return fmt.Sprintf("deleting job %s: %v", e.JobID, e.Err)
}

func (e *JobCleanupError) Unwrap() error { return e.Err }
