package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is a thread-safe in-memory store for pools, jobs and tasks.
type Store struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	jobs  map[string]*Job
}

func NewStore() *Store {
	return &Store{
		pools: make(map[string]*Pool),
		jobs:  make(map[string]*Job),
	}
}

// CreatePool stores a pool definition unless one with the same id exists.
func (s *Store) CreatePool(pool *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool.ID]; ok {
		return fmt.Errorf("pool %s: %w", pool.ID, ErrAlreadyExists)
	}
	s.pools[pool.ID] = pool
	return nil
}

func (s *Store) GetPool(id string) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return pool, nil
}

// CreateJob stores a job bound to an existing pool.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[job.PoolID]; !ok {
		return fmt.Errorf("pool %s: %w", job.PoolID, ErrNotFound)
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrAlreadyExists)
	}
	job.tasks = make(map[string]*Task)
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// ListJobs returns all jobs sorted by id, optionally filtered by pool.
func (s *Store) ListJobs(poolID string) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*Job
	for _, job := range s.jobs {
		if poolID == "" || job.PoolID == poolID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// DeleteJob removes a job and returns it with its tasks so the caller can
// stop them.
func (s *Store) DeleteJob(id string) (*Job, []*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	delete(s.jobs, id)
	return job, sortedTasks(job.tasks), nil
}

// AddTask attaches a task to its job.
func (s *Store) AddTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[task.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", task.JobID, ErrNotFound)
	}
	if _, ok := job.tasks[task.ID]; ok {
		return fmt.Errorf("task %s/%s: %w", task.JobID, task.ID, ErrAlreadyExists)
	}
	job.tasks[task.ID] = task
	return nil
}

func (s *Store) GetTask(jobID, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	task, ok := job.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s/%s: %w", jobID, taskID, ErrNotFound)
	}
	return task, nil
}

// ListTasks returns the tasks of a job sorted by id.
func (s *Store) ListTasks(jobID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return sortedTasks(job.tasks), nil
}

func sortedTasks(m map[string]*Task) []*Task {
	tasks := make([]*Task, 0, len(m))
	for _, t := range m {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}
