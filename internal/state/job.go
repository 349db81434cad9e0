package state

import (
	"path/filepath"
	"time"
)

// Job groups the tasks run on one pool.
type Job struct {
	ID        string
	PoolID    string
	CreatedAt time.Time
	// Dir holds one subdirectory per task.
	Dir string

	tasks map[string]*Task // guarded by Store.mu
}

// TaskDir returns the directory a task of this job runs in.
func (j *Job) TaskDir(taskID string) string {
	return filepath.Join(j.Dir, taskID)
}
